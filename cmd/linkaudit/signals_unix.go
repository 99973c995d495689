//go:build unix

package main

import (
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkaudit/internal/auditor"
)

// watchPauseSignal toggles pause on run for every SIGUSR1 until the returned
// stop function is called or the run finishes.
func watchPauseSignal(run *auditor.Run, logger *zap.Logger) func() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1)
	quit := make(chan struct{})
	go func() {
		for {
			select {
			case <-sigs:
				run.TogglePause()
				logger.Info("pause toggled", zap.Bool("paused", run.Paused()))
			case <-run.Done():
				return
			case <-quit:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(quit)
	}
}
