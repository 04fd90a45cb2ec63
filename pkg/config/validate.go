package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration against the struct-level validation
// rules plus cross-field constraints the tags cannot express.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range errs {
				return fmt.Errorf("invalid value for %s: failed %q constraint", fe.Namespace(), fe.Tag())
			}
		}
		return err
	}

	// Backend-specific required fields.
	switch cfg.Store.Backend {
	case "redis":
		if cfg.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required when store.backend is redis")
		}
	case "badger":
		if cfg.Store.Badger.Path == "" {
			return fmt.Errorf("store.badger.path is required when store.backend is badger")
		}
	}

	if cfg.Store.Retry.InitialBackoff > cfg.Store.Retry.MaxBackoff {
		return fmt.Errorf("store.retry.initial_backoff must not exceed store.retry.max_backoff")
	}

	return nil
}
