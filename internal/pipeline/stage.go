package pipeline

import (
	"context"
	"time"

	"FinScreen/internal/domain/models"
)

// Stage is one named filter unit. Apply receives the surviving assets of
// the previous stage and reports which pass and why the rest were rejected.
// Stages are contractually non-throwing under normal operation: a returned
// error aborts the whole run.
type Stage interface {
	Name() string
	Apply(ctx context.Context, assets []models.Asset, asOf time.Time, data *DataContext) (models.FilterResult, error)
}

// Config is the free-form configuration a stage factory is constructed
// from. Keys are stage-specific.
type Config map[string]interface{}

// Float reads a float64 setting, accepting ints for convenience.
func (c Config) Float(key string, fallback float64) float64 {
	switch v := c[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return fallback
	}
}

// Int reads an integer setting.
func (c Config) Int(key string, fallback int) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// Strings reads a string-slice setting.
func (c Config) Strings(key string) []string {
	switch v := c[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Merged returns a copy of c with overrides applied on top.
func (c Config) Merged(overrides Config) Config {
	merged := make(Config, len(c)+len(overrides))
	for k, v := range c {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
