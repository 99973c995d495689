//go:build !unix

package main

import (
	"go.uber.org/zap"

	"github.com/JakeFAU/linkaudit/internal/auditor"
)

func watchPauseSignal(*auditor.Run, *zap.Logger) func() {
	return func() {}
}
