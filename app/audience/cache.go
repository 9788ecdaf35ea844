package audience

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// ContextCache holds the device context loaded from a YAML file.
type ContextCache struct {
	path    string
	current DeviceContext
	mu      sync.RWMutex
}

func NewContextCache(path string) *ContextCache {
	return &ContextCache{path: path}
}

func (cc *ContextCache) Path() string {
	return cc.path
}

// Load reads the device file. A missing file leaves an empty context. On a
// parse error the previous context is kept.
func (cc *ContextCache) Load() error {
	data, err := os.ReadFile(cc.path)
	if os.IsNotExist(err) {
		slog.Debug("Device file not found, using empty context", "path", cc.path)
		cc.Set(DeviceContext{})
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read device file: %w", err)
	}

	var deviceCtx DeviceContext
	if err := yaml.Unmarshal(data, &deviceCtx); err != nil {
		return fmt.Errorf("failed to parse device file %s: %w", cc.path, err)
	}
	if err := validateContext(deviceCtx); err != nil {
		return fmt.Errorf("invalid device file %s: %w", cc.path, err)
	}

	cc.Set(deviceCtx)
	slog.Debug("Device context loaded", "path", cc.path, "locale", deviceCtx.Locale, "tags", len(deviceCtx.Tags))
	return nil
}

func (cc *ContextCache) Set(deviceCtx DeviceContext) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.current = deviceCtx
}

func (cc *ContextCache) Get() DeviceContext {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return cc.current
}

// Locale returns the device locale used for remote data requests.
func (cc *ContextCache) Locale() language.Tag {
	return cc.Get().LanguageTag()
}

func validateContext(deviceCtx DeviceContext) error {
	if deviceCtx.Locale != "" {
		if _, err := language.Parse(deviceCtx.Locale); err != nil {
			return fmt.Errorf("invalid locale %q: %w", deviceCtx.Locale, err)
		}
	}
	for i, tag := range deviceCtx.Tags {
		if tag == "" {
			return fmt.Errorf("empty tag at index %d", i)
		}
	}
	return nil
}
