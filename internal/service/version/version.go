package version

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"runtime/debug"
	"sync"

	domrepo "FinScreen/internal/domain/repository"
)

const fallbackVersion = "0.0.0-dev"

// Manager fingerprints the code and configuration a run executed under, so
// two results can be compared for reproducibility.
type Manager struct {
	once sync.Once
	code string
}

func NewManager() *Manager {
	return &Manager{}
}

// CodeVersion returns module version plus VCS revision when the binary was
// built from a repository, e.g. "v1.4.0+3fa9c21d" or "v1.4.0+3fa9c21d-dirty".
func (m *Manager) CodeVersion() string {
	m.once.Do(func() {
		m.code = resolveCodeVersion()
	})
	return m.code
}

func resolveCodeVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return fallbackVersion
	}

	version := info.Main.Version
	if version == "" || version == "(devel)" {
		version = fallbackVersion
	}

	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return version
	}
	if len(revision) > 8 {
		revision = revision[:8]
	}
	if dirty {
		return version + "+" + revision + "-dirty"
	}
	return version + "+" + revision
}

// ConfigHash returns the first 16 hex chars of the SHA-256 over the JSON
// encoding of cfg. encoding/json sorts map keys, so logically identical
// configurations hash identically regardless of construction order.
func (m *Manager) ConfigHash(cfg map[string]interface{}) string {
	if len(cfg) == 0 {
		return "no_config"
	}

	payload, err := json.Marshal(cfg)
	if err != nil {
		return "hash_error"
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:16]
}

var _ domrepo.VersionManager = (*Manager)(nil)
