package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"unibuild/internal/unibuild"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigs:
			fmt.Fprintf(os.Stderr, "\nReceived %v, cancelling build...\n", sig)
			cancel()
			// A second interrupt forces immediate exit.
			select {
			case <-sigs:
				os.Exit(130)
			case <-time.After(10 * time.Second):
				os.Exit(130)
			}
		case <-ctx.Done():
		}
	}()

	configFile := flag.String("c", unibuild.DefaultConfigFile, "configuration file")
	debug := flag.Bool("d", false, "print debugging information")
	flag.Parse()
	unibuild.Debug = *debug

	cfg, err := unibuild.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := unibuild.RunCLI(ctx, cfg, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
