package plugin

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	nuvom "github.com/nahom-zewdu/Nuvom"
)

// Descriptor is the parsed plugin descriptor file:
//
//	[plugins]
//	queue_backend  = ["./plugins/redis.so:Plugin"]
//	result_backend = []
//	monitoring     = ["./plugins/statsd.so:New"]
//
// Each entry is "<shared object path>:<symbol>". The symbol must resolve
// to a Plugin value or a func() Plugin constructor.
type Descriptor struct {
	Plugins struct {
		QueueBackend  []string `toml:"queue_backend"`
		ResultBackend []string `toml:"result_backend"`
		Monitoring    []string `toml:"monitoring"`
	} `toml:"plugins"`
}

// Spec is one descriptor entry plus the capability group it was listed
// under.
type Spec struct {
	Path       string
	Symbol     string
	Capability Capability
}

// ParseDescriptor reads and validates the descriptor at path. A missing
// file is not an error — it means no plugins are configured.
func ParseDescriptor(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read descriptor %s: %v", nuvom.ErrPluginLoad, path, err)
	}

	var d Descriptor
	if err := toml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: parse descriptor %s: %v", nuvom.ErrPluginLoad, path, err)
	}

	groups := []struct {
		cap     Capability
		entries []string
	}{
		{CapQueueBackend, d.Plugins.QueueBackend},
		{CapResultBackend, d.Plugins.ResultBackend},
		{CapMonitoring, d.Plugins.Monitoring},
	}

	var specs []Spec
	seen := make(map[string]bool)
	for _, g := range groups {
		for _, entry := range g.entries {
			soPath, symbol, found := strings.Cut(entry, ":")
			if !found || soPath == "" || symbol == "" {
				return nil, fmt.Errorf("%w: malformed entry %q (want \"path.so:Symbol\")",
					nuvom.ErrPluginLoad, entry)
			}
			if seen[entry] {
				continue
			}
			seen[entry] = true
			specs = append(specs, Spec{Path: soPath, Symbol: symbol, Capability: g.cap})
		}
	}
	return specs, nil
}
