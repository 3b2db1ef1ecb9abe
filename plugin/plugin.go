// Package plugin binds user-supplied backends into the runtime at startup.
//
// A TOML descriptor at a well-known path enumerates plugin shared objects
// grouped by capability. Loading happens exactly once, before any worker
// is created; a load failure is fatal. Each plugin receives a Host handle
// through which it registers queue or result backend factories or installs
// a monitoring extension — there is no module-level mutation.
package plugin

import (
	"log/slog"

	nuvom "github.com/nahom-zewdu/Nuvom"
	"github.com/nahom-zewdu/Nuvom/ext"
	"github.com/nahom-zewdu/Nuvom/queue"
	"github.com/nahom-zewdu/Nuvom/result"
)

// APIVersion is the plugin protocol version of this core. A plugin whose
// major version differs is refused at load time.
const APIVersion = "1.0"

// Capability names a kind of service a plugin can provide.
type Capability string

const (
	CapQueueBackend  Capability = "queue_backend"
	CapResultBackend Capability = "result_backend"
	CapMonitoring    Capability = "monitoring"
)

// Plugin is the contract every plugin object implements.
type Plugin interface {
	// APIVersion must share its major version with the core's APIVersion.
	APIVersion() string

	// Name is a unique identifier (e.g. "redis", "statsd").
	Name() string

	// Provides lists the capabilities this plugin offers.
	Provides() []Capability

	// Start is called once after configuration is ready. It is expected
	// to register factories or install a monitoring sink via the Host.
	Start(h Host) error

	// Stop is called during graceful shutdown, in reverse start order.
	Stop() error
}

// Host is the explicit accessor object handed to plugins at Start. It is
// the only channel between a plugin and the runtime.
type Host interface {
	// Config returns the runtime configuration record.
	Config() nuvom.Config

	// Logger returns the runtime's structured logger.
	Logger() *slog.Logger

	// RegisterQueueBackend makes a queue backend resolvable by name.
	RegisterQueueBackend(name string, f queue.Factory)

	// RegisterResultBackend makes a result backend resolvable by name.
	RegisterResultBackend(name string, f result.Factory)

	// InstallMonitor registers a lifecycle-event extension.
	InstallMonitor(e ext.Extension)
}
