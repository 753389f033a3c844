package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	dotenvOnce sync.Once
	cache      sync.Map // reflect.Type -> *entry
)

type entry struct {
	once sync.Once
	val  any
	err  error
}

// Load fills v from the environment using caarlos0/env struct tags. A .env
// file in the working directory is read once, before the first parse.
//
// Each config type is parsed once per process; later calls return the cached
// value (or the cached error).
//
//	var cfg pg.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}

	dotenvOnce.Do(func() {
		// A missing .env file is normal outside local development.
		_ = godotenv.Load()
	})

	e, _ := cache.LoadOrStore(reflect.TypeFor[T](), &entry{})
	ent := e.(*entry)
	ent.once.Do(func() {
		var cfg T
		if err := env.Parse(&cfg); err != nil {
			ent.err = errors.Join(ErrParsingConfig, err)
			return
		}
		ent.val = cfg
	})
	if ent.err != nil {
		return ent.err
	}

	*v = ent.val.(T)
	return nil
}

// MustLoad is Load for startup code: it panics on failure.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
}
