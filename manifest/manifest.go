// Package manifest loads the task manifest produced by the discovery
// tooling and populates the task registry from it at worker startup.
//
// The manifest is authored externally; the runtime only consumes it. Each
// entry names a task symbol and its default execution parameters. Handlers
// are code, not data: the host supplies a symbol-to-handler map and the
// loader binds the two.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	nuvom "github.com/nahom-zewdu/Nuvom"
	"github.com/nahom-zewdu/Nuvom/job"
	"github.com/nahom-zewdu/Nuvom/task"
)

// Metadata carries a manifest entry's default execution parameters.
type Metadata struct {
	Retries        int      `json:"retries"`
	RetryDelaySecs int      `json:"retry_delay_secs"`
	TimeoutSecs    int      `json:"timeout_secs"`
	TimeoutPolicy  string   `json:"timeout_policy,omitempty"`
	StoreResult    *bool    `json:"store_result,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Description    string   `json:"description,omitempty"`
}

// Entry is one discovered task: where it was found and what it is called.
type Entry struct {
	File     string   `json:"file"`
	Line     int      `json:"line"`
	Name     string   `json:"name"`
	Metadata Metadata `json:"metadata"`
}

// Load reads a manifest document keyed by fully-qualified symbol.
func Load(path string) (map[string]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", nuvom.ErrCorruptManifest, path, err)
	}

	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", nuvom.ErrCorruptManifest, path, err)
	}
	for symbol, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("%w: entry %q has no task name", nuvom.ErrCorruptManifest, symbol)
		}
	}
	return entries, nil
}

// Apply registers every manifest entry whose symbol has a handler in the
// host-supplied map. Registration is silent so repeated startups and
// decorator-style registrations coexist. A symbol with no handler is a
// startup error: the manifest promises a task the process cannot run.
func Apply(reg *task.Registry, entries map[string]Entry, handlers map[string]task.Handler) error {
	for symbol, e := range entries {
		h, ok := handlers[symbol]
		if !ok {
			h, ok = handlers[e.Name]
		}
		if !ok {
			return fmt.Errorf("%w: no handler bound for %q", nuvom.ErrCorruptManifest, symbol)
		}

		storeResult := true
		if e.Metadata.StoreResult != nil {
			storeResult = *e.Metadata.StoreResult
		}
		def := &task.Definition{
			Name:          e.Name,
			Handler:       h,
			Retries:       e.Metadata.Retries,
			RetryDelay:    time.Duration(e.Metadata.RetryDelaySecs) * time.Second,
			Timeout:       time.Duration(e.Metadata.TimeoutSecs) * time.Second,
			TimeoutPolicy: job.TimeoutPolicy(e.Metadata.TimeoutPolicy),
			StoreResult:   storeResult,
			Tags:          e.Metadata.Tags,
			Description:   e.Metadata.Description,
		}
		if err := reg.Register(def, task.RegisterSilent); err != nil {
			return err
		}
	}
	return nil
}
