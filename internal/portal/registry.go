package portal

import (
	"fmt"
	"sort"
	"sync"

	"github.com/heeplr/document-dl/internal/config"
)

// Plugin describes a scraper that can be selected by name.
type Plugin struct {
	Name        string
	Description string
	// Browser reports whether the scraper needs a browser session with the
	// given configuration, nil means it never does.
	Browser func(cfg config.Config) bool
	New     func(cfg config.Config) (Scraper, error)
}

func (p Plugin) NeedsBrowser(cfg config.Config) bool {
	return p.Browser != nil && p.Browser(cfg)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Plugin{}
)

// Register makes a plugin available by name. It is meant to be called from
// init and panics on duplicates.
func Register(plugin Plugin) {
	if plugin.Name == "" || plugin.New == nil {
		panic("portal: plugin needs a name and a constructor")
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[plugin.Name]; exists {
		panic(fmt.Sprintf("portal: plugin %q registered twice", plugin.Name))
	}
	registry[plugin.Name] = plugin
}

func Lookup(name string) (Plugin, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	plugin, ok := registry[name]
	return plugin, ok
}

// Plugins lists every registered plugin sorted by name.
func Plugins() []Plugin {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Plugin, 0, len(registry))
	for _, plugin := range registry {
		out = append(out, plugin)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}
