package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type envOverlay struct {
	CatalogDir    string `env:"PMSIM_CATALOG_DIR"`
	Difficulty    string `env:"PMSIM_DIFFICULTY"`
	Addr          string `env:"PMSIM_ADDR"`
	BasePath      string `env:"PMSIM_BASE_PATH"`
	JWTSecret     string `env:"PMSIM_JWT_SECRET"`
	TokenTTLHours int    `env:"PMSIM_TOKEN_TTL_HOURS"`
}

// ParseEnv decodes environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ApplyEnv overlays non-empty PMSIM_* values onto c and revalidates.
func (c *Config) ApplyEnv() error {
	var o envOverlay
	if err := ParseEnv(&o); err != nil {
		return err
	}
	if o.CatalogDir != "" {
		c.Catalog.Dir = o.CatalogDir
	}
	if o.Difficulty != "" {
		c.Game.Difficulty = o.Difficulty
	}
	if o.Addr != "" {
		c.Server.Addr = o.Addr
	}
	if o.BasePath != "" {
		c.Server.BasePath = o.BasePath
	}
	if o.JWTSecret != "" {
		c.Server.JWTSecret = o.JWTSecret
	}
	if o.TokenTTLHours != 0 {
		c.Server.TokenTTLHours = o.TokenTTLHours
	}
	return c.Validate()
}
