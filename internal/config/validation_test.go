package config_test

import (
	"errors"
	"testing"

	"pulpit/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	valid := config.Config{
		DBHost:       "localhost",
		DBUser:       "user",
		DBName:       "db",
		MaxAttempts:  3,
		ChunkWindow:  500,
		ChunkOverlap: 100,
	}

	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr bool
	}{
		{
			name:   "Valid Config",
			mutate: func(c *config.Config) {},
		},
		{
			name:    "Missing DBHost",
			mutate:  func(c *config.Config) { c.DBHost = "" },
			wantErr: true,
		},
		{
			name:    "Missing DBUser",
			mutate:  func(c *config.Config) { c.DBUser = "" },
			wantErr: true,
		},
		{
			name:    "Missing DBName",
			mutate:  func(c *config.Config) { c.DBName = "" },
			wantErr: true,
		},
		{
			name:    "Zero MaxAttempts",
			mutate:  func(c *config.Config) { c.MaxAttempts = 0 },
			wantErr: true,
		},
		{
			name:    "Overlap not smaller than window",
			mutate:  func(c *config.Config) { c.ChunkOverlap = 500 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, errors.Is(err, config.ErrMissingRequired))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
