// Command nuvom runs a worker process: load configuration from the
// environment, wire the engine, process jobs until SIGINT/SIGTERM, and
// exit 0 on graceful shutdown or non-zero on unrecoverable startup
// failure.
package main

import (
	"context"
	"fmt"
	"os"

	nuvom "github.com/nahom-zewdu/Nuvom"
	"github.com/nahom-zewdu/Nuvom/engine"
	"github.com/nahom-zewdu/Nuvom/observability"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := nuvom.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "nuvom:", err)
		return 2
	}

	eng, err := engine.New(cfg,
		engine.WithExtensions(observability.NewMetricsExtension()),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "nuvom:", err)
		if engine.IsFatalStartup(err) {
			return 1
		}
		return 2
	}

	if err := eng.Run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "nuvom:", err)
		return 1
	}
	return 0
}
