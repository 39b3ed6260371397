// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Load .env file via godotenv (non-fatal if absent; never overrides
//     variables already set in the environment).
//  2. Use envconfig to process struct tags and populate the Config struct.
//  3. Validate the struct using go-playground/validator.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/zudduz/cscratch-dg/internal/types"
)

// Load reads and validates the relay configuration from the environment.
// It returns a *types.AppError with a config_* code on any failure so the
// caller can fail fast with a diagnosable message.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, types.NewAppError(types.ErrCodeConfigInvalid,
			"failed to process environment configuration", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate runs struct validation and translates validator output into the
// relay error taxonomy. Missing required fields get their own code so the
// operator can tell "not set" apart from "set but malformed".
func validate(cfg *Config) error {
	err := validator.New().Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	ok := false
	if e, isVErrs := err.(validator.ValidationErrors); isVErrs {
		verrs, ok = e, true
	}
	if !ok {
		return types.NewAppError(types.ErrCodeConfigInvalid, "configuration validation failed", err)
	}

	var missing, invalid []string
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			missing = append(missing, fe.StructNamespace())
		} else {
			invalid = append(invalid, fmt.Sprintf("%s (%s)", fe.StructNamespace(), fe.Tag()))
		}
	}

	if len(missing) > 0 {
		return types.NewAppError(types.ErrCodeConfigMissing,
			"missing required configuration: "+strings.Join(missing, ", "), err)
	}
	return types.NewAppError(types.ErrCodeConfigInvalid,
		"invalid configuration: "+strings.Join(invalid, ", "), err)
}
