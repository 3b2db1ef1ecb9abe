// Package codec serializes job records to a compact binary form.
//
// Records carry a two-byte header (magic + format version) ahead of the
// MessagePack body so a decoder can refuse input produced by an
// incompatible release instead of misreading it.
package codec

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	nuvom "github.com/nahom-zewdu/Nuvom"
	"github.com/nahom-zewdu/Nuvom/job"
)

// Codec encodes and decodes a job record. Encode is total for every value
// MessagePack can represent; Decode fails with nuvom.ErrCorruptRecord on
// malformed or version-mismatched input.
type Codec interface {
	Name() string
	Encode(j *job.Job) ([]byte, error)
	Decode(data []byte) (*job.Job, error)
}

var (
	mu     sync.RWMutex
	codecs = map[string]Codec{}
)

func init() {
	Register(&Msgpack{})
}

// Register makes a codec resolvable by name. Later registrations replace
// earlier ones, letting plugins override a built-in.
func Register(c Codec) {
	mu.Lock()
	defer mu.Unlock()
	codecs[c.Name()] = c
}

// Get resolves a codec by its configured name.
func Get(name string) (Codec, error) {
	mu.RLock()
	defer mu.RUnlock()
	c, ok := codecs[name]
	if !ok {
		return nil, fmt.Errorf("%w: serialization backend %q", nuvom.ErrUnknownBackend, name)
	}
	return c, nil
}

// Names returns all registered codec names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(codecs))
	for name := range codecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsCorrupt reports whether err marks an undecodable record.
func IsCorrupt(err error) bool {
	return errors.Is(err, nuvom.ErrCorruptRecord)
}
