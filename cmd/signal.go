package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// interruptedExitCode is the conventional status for death by SIGINT.
const interruptedExitCode = 130

// exitOnSignal terminates the process as soon as SIGINT or SIGTERM arrives.
// In-flight downloads and extractions are abandoned, and partially written
// files stay on disk for the next run to replace.
func exitOnSignal() (stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigs:
			fmt.Fprintf(os.Stderr, "\nReceived %s, exiting.\n", sig)
			os.Exit(interruptedExitCode)
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}
