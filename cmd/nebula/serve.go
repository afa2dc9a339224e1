package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nebulamp/netcore/internal"
	"github.com/nebulamp/netcore/internal/core"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the session server",
	Run:   ServeCommand,
}

// ServeCommand is the main entrypoint for running a server. It takes care of
// loading the config and running the controller until the process is signalled.
func ServeCommand(_ *cobra.Command, _ []string) {
	config, err := core.LoadConfig(ConfigFlag)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if ConfigFlag != "" {
		fmt.Println("using configuration directory:", ConfigFlag)
		// Change to the config directory so that any relative paths in the
		// config file will resolve.
		if err := os.Chdir(ConfigFlag); err != nil {
			fmt.Println("error changing to config directory:", err)
			os.Exit(1)
		}
	}

	// Bind the Controller to one top-level server context so that we can shut down cleanly.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	// Register a SIGTERM handler so that Ctrl-C will shut the server down gracefully.
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go exitHandler(cancel, c, done)

	controller := &internal.Controller{Config: config}
	if err := controller.Start(ctx); err != nil {
		fmt.Println(err)
	}
	close(done)
	fmt.Println("shut down")
}

// exitHandler cancels the server on the first signal and exits immediately on
// the second.
func exitHandler(cancelFn func(), c chan os.Signal, done <-chan struct{}) {
	select {
	case <-c:
	case <-done:
		return
	}
	fmt.Println("waiting to shut down gracefully...")
	cancelFn()

	select {
	case <-c:
		fmt.Println("hard exiting (killed)")
		os.Exit(1)
	case <-done:
	}
}
