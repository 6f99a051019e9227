package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mkrupp/mediavault/internal/app"
	"github.com/mkrupp/mediavault/internal/infra/config"
	"github.com/mkrupp/mediavault/internal/infra/logging"
)

const svcName = "mediactl"

func main() {
	var (
		cfg app.Config
		ctx = context.Background()

		configPrefix = strings.ToUpper(strings.Join([]string{app.AppName, svcName}, "_"))
		loggerName   = strings.ToLower(strings.Join([]string{app.AppName, svcName}, "."))
	)

	if err := config.Parse(ctx, &cfg, configPrefix); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logging.Configure(ctx, cfg.Log, loggerName)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)

	err := newRootCommand(cfg).ExecuteContext(ctx)

	stop()

	if err != nil {
		os.Exit(1)
	}
}
