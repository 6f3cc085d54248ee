package core

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registry   = make(map[string]Format)
	registryMu sync.RWMutex
)

// Register adds a format to the catalog.
// Panics if the format is invalid or its name is already registered.
func Register(f Format) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if err := f.Validate(); err != nil {
		panic(err.Error())
	}
	if _, exists := registry[f.Name]; exists {
		panic(fmt.Sprintf("format already registered: %s", f.Name))
	}

	registry[f.Name] = f
}

// GetFormat returns a format by name.
func GetFormat(name string) (Format, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	f, ok := registry[name]
	return f, ok
}

// Formats returns the catalog sorted by reseller then name.
func Formats() []Format {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]Format, 0, len(registry))
	for _, f := range registry {
		result = append(result, f)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].ResellerID != result[j].ResellerID {
			return result[i].ResellerID < result[j].ResellerID
		}
		return result[i].Name < result[j].Name
	})

	return result
}

// FormatsByReseller returns the formats declared by one reseller.
func FormatsByReseller(resellerID string) []Format {
	var out []Format
	for _, f := range Formats() {
		if f.ResellerID == resellerID {
			out = append(out, f)
		}
	}
	return out
}

// FormatCount returns the number of registered formats.
func FormatCount() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}

// ClearFormats removes all registered formats.
// Primarily useful for testing.
func ClearFormats() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]Format)
}
