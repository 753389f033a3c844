package subscription

import (
	"fmt"
	"strings"
	"time"
)

// Config selects the provider and tunes the interactive path.
type Config struct {
	Provider       string        `env:"BILLING_PROVIDER" envDefault:"stripe"`
	VerifyAttempts int           `env:"VERIFY_ATTEMPTS" envDefault:"5"`
	VerifyDelay    time.Duration `env:"VERIFY_DELAY" envDefault:"300ms"`
	NotifyTimeout  time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"10s"`
}

// NewProvider builds the configured provider and the catalog bound to its
// price IDs.
func NewProvider(cfg Config, stripeCfg StripeConfig, paddleCfg PaddleConfig) (BillingProvider, *Catalog, error) {
	switch strings.ToLower(cfg.Provider) {
	case "stripe", "":
		p, err := NewStripeProvider(stripeCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("stripe: %w", err)
		}
		return p, DefaultCatalog(stripeCfg.ProPriceID, stripeCfg.EnterprisePriceID), nil
	case "paddle":
		p, err := NewPaddleProvider(paddleCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("paddle: %w", err)
		}
		return p, DefaultCatalog(paddleCfg.ProPriceID, paddleCfg.EnterprisePriceID), nil
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}
}
