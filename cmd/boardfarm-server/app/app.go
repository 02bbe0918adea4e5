package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/boardfarm/cmd/boardfarm-server/app/options"
	"github.com/autopeer-io/boardfarm/pkg/app"
	"github.com/autopeer-io/boardfarm/pkg/log"
)

const (
	commandName = "boardfarm-server"
	commandDesc = `The boardfarm server runs test binaries on physical embedded boards.

It accepts execution requests over HTTP(S), routes each one to the pool of
boards matching its (architecture, board) target, flashes the binary, captures
the console output up to the request's end string and answers with it. Boards
that do not answer are power-cycled through networked power strips.

Boards and power strips are declared in the config file given with --config.`
)

func NewApp() *app.App {
	opts := options.NewServerOptions()
	application := app.NewApp(
		commandName,
		"Launch the boardfarm dispatcher",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithEnvPrefix("BOARDFARM"),
		app.WithRunFunc(run(opts)),
	)
	return application
}

func run(opts *options.ServerOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)
		defer log.Sync()

		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		server, err := cfg.NewServer()
		if err != nil {
			return fmt.Errorf("failed to create boardfarm server: %w", err)
		}

		return server.Run(ctx)
	}
}
