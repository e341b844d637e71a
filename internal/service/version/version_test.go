package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigHashDeterministic(t *testing.T) {
	m := NewManager()

	a := m.ConfigHash(map[string]interface{}{
		"liquidity":  map[string]interface{}{"min_avg_dollar_volume_usd": 5000000.0},
		"structural": map[string]interface{}{"min_listing_age_days": 252},
	})
	b := m.ConfigHash(map[string]interface{}{
		"structural": map[string]interface{}{"min_listing_age_days": 252},
		"liquidity":  map[string]interface{}{"min_avg_dollar_volume_usd": 5000000.0},
	})

	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
}

func TestConfigHashDistinguishesValues(t *testing.T) {
	m := NewManager()

	a := m.ConfigHash(map[string]interface{}{"min": 1.0})
	b := m.ConfigHash(map[string]interface{}{"min": 2.0})

	assert.NotEqual(t, a, b)
}

func TestConfigHashEmpty(t *testing.T) {
	m := NewManager()

	assert.Equal(t, "no_config", m.ConfigHash(nil))
	assert.Equal(t, "no_config", m.ConfigHash(map[string]interface{}{}))
}

func TestCodeVersionStable(t *testing.T) {
	m := NewManager()

	v := m.CodeVersion()
	assert.NotEmpty(t, v)
	assert.Equal(t, v, m.CodeVersion())
}
