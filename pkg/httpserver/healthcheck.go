package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/subsync/pkg/logger"
)

// Probe is a named readiness check, such as a database ping.
type Probe struct {
	Name  string
	Check func(context.Context) error
}

// LivenessHandler answers 200 "ALIVE" as long as the process serves HTTP.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ALIVE"))
	}
}

// ReadinessHandler runs every probe concurrently, each bounded by timeout.
// It answers 200 when all pass and 503 otherwise, with a JSON body mapping
// probe names to "ok" or the error text.
func ReadinessHandler(log *slog.Logger, timeout time.Duration, probes ...Probe) http.HandlerFunc {
	if log == nil {
		log = logger.Discard()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var (
			mu      sync.Mutex
			results = make(map[string]string, len(probes))
		)

		// Probes run to completion independently so each reports its own status.
		var g errgroup.Group
		for _, p := range probes {
			g.Go(func() error {
				pctx, cancel := context.WithTimeout(r.Context(), timeout)
				defer cancel()

				err := p.Check(pctx)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					results[p.Name] = err.Error()
					log.WarnContext(r.Context(), "readiness check failed",
						slog.String("probe", p.Name), logger.Error(err))
					return err
				}
				results[p.Name] = "ok"
				return nil
			})
		}

		status := http.StatusOK
		if err := g.Wait(); err != nil {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(results)
	}
}
