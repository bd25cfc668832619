package notifier

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory builds a Notifier from provider-specific settings.
type Factory func(settings map[string]string) (Notifier, error)

var (
	mu        sync.RWMutex
	providers = map[string]Factory{}
)

// Register adds a provider under name. Adapters call this from init,
// so registering the same name twice is a programming error and panics.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, dup := providers[name]; dup {
		panic(fmt.Sprintf("notifier: provider %q registered twice", name))
	}
	providers[name] = f
}

// New builds the named provider. The error for an unknown name lists
// what is registered, since a typo in config is the usual cause.
func New(name string, settings map[string]string) (Notifier, error) {
	mu.RLock()
	f, ok := providers[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("notifier: unknown provider %q (registered: %s)", name, strings.Join(Available(), ", "))
	}
	return f(settings)
}

// Available lists the registered provider names, sorted.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
