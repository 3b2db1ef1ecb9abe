package plugin

import (
	"context"
	"fmt"
	"log/slog"
	goplugin "plugin"
	"slices"
	"strings"
	"sync"

	nuvom "github.com/nahom-zewdu/Nuvom"
)

// Loader imports, verifies, and starts plugins exactly once per process,
// and stops them in reverse start order at shutdown.
type Loader struct {
	host   Host
	logger *slog.Logger

	mu      sync.Mutex
	loaded  bool
	started []Plugin
}

// NewLoader creates a loader that hands the given Host to every plugin.
func NewLoader(host Host, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{host: host, logger: logger}
}

// Load parses the descriptor and starts every listed plugin. Any failure
// is fatal and wrapped as ErrPluginLoad; plugins already started are
// stopped again before Load returns the error. Calling Load twice is a
// no-op.
func (l *Loader) Load(ctx context.Context, descriptorPath string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.loaded {
		return nil
	}

	specs, err := ParseDescriptor(descriptorPath)
	if err != nil {
		return err
	}

	for _, spec := range specs {
		p, err := open(spec)
		if err != nil {
			l.stopLocked(ctx)
			return err
		}
		if err := l.startLocked(spec, p); err != nil {
			l.stopLocked(ctx)
			return err
		}
	}

	l.loaded = true
	return nil
}

// StartInProcess verifies and starts a plugin instance supplied by the
// host itself rather than loaded from a shared object. It shares the
// version gate and lifecycle bookkeeping with descriptor-loaded plugins.
func (l *Loader) StartInProcess(p Plugin, cap Capability) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startLocked(Spec{Path: "<in-process>", Symbol: p.Name(), Capability: cap}, p)
}

func (l *Loader) startLocked(spec Spec, p Plugin) error {
	if majorVersion(p.APIVersion()) != majorVersion(APIVersion) {
		return fmt.Errorf("%w: %s api_version %s incompatible with core %s",
			nuvom.ErrPluginLoad, p.Name(), p.APIVersion(), APIVersion)
	}
	if !slices.Contains(p.Provides(), spec.Capability) {
		return fmt.Errorf("%w: %s listed under %q but provides %v",
			nuvom.ErrPluginLoad, p.Name(), spec.Capability, p.Provides())
	}

	if err := p.Start(l.host); err != nil {
		return fmt.Errorf("%w: %s start: %v", nuvom.ErrPluginLoad, p.Name(), err)
	}
	l.started = append(l.started, p)

	l.logger.Info("plugin started",
		slog.String("plugin", p.Name()),
		slog.String("source", spec.Path),
		slog.String("capability", string(spec.Capability)),
	)
	return nil
}

// Stop calls Stop on every started plugin in reverse start order. Errors
// are logged, never propagated; shutdown proceeds regardless.
func (l *Loader) Stop(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked(ctx)
}

func (l *Loader) stopLocked(_ context.Context) {
	for i := len(l.started) - 1; i >= 0; i-- {
		p := l.started[i]
		if err := p.Stop(); err != nil {
			l.logger.Warn("plugin stop failed",
				slog.String("plugin", p.Name()),
				slog.String("error", err.Error()),
			)
		} else {
			l.logger.Info("plugin stopped", slog.String("plugin", p.Name()))
		}
	}
	l.started = nil
}

// Started returns the started plugins in start order.
func (l *Loader) Started() []Plugin {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Plugin(nil), l.started...)
}

// open loads a shared object and resolves its plugin symbol. Accepted
// symbol shapes: a Plugin value, a pointer to one (package-level var), or
// a func() Plugin constructor.
func open(spec Spec) (Plugin, error) {
	so, err := goplugin.Open(spec.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", nuvom.ErrPluginLoad, spec.Path, err)
	}
	sym, err := so.Lookup(spec.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s has no symbol %q", nuvom.ErrPluginLoad, spec.Path, spec.Symbol)
	}

	switch v := sym.(type) {
	case Plugin:
		return v, nil
	case *Plugin:
		return *v, nil
	case func() Plugin:
		return v(), nil
	default:
		return nil, fmt.Errorf("%w: symbol %s in %s is %T, not a Plugin",
			nuvom.ErrPluginLoad, spec.Symbol, spec.Path, sym)
	}
}

func majorVersion(v string) string {
	major, _, _ := strings.Cut(v, ".")
	return major
}
