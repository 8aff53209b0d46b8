/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/anima/engine"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/testbed"
)

const defaultConfigPath = "configs/engine.toml"

func main() {
	path := defaultConfigPath
	if p := os.Getenv("ANIMA_CONFIG"); p != "" {
		path = p
	}
	config, err := engine.LoadApplicationConfig(path)
	if err != nil {
		core.LogFatal("failed to load configuration: %s", err)
	}

	// cancelled on sigterm and other system calls
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	tb := testbed.NewTestGame(config)
	e, err := engine.New(tb.Game)
	if err != nil {
		core.LogFatal(err.Error())
	}

	if err := e.Initialize(ctx); err != nil {
		_ = e.Shutdown()
		core.LogFatal("failed to initialize the engine: %s", err)
	}

	runErr := e.Run(ctx)
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown: %s", err)
	}
	if runErr != nil {
		core.LogFatal(runErr.Error())
	}
}
