package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mkrupp/mediavault/internal/app"
	"github.com/mkrupp/mediavault/internal/domain"
	"github.com/mkrupp/mediavault/internal/infra/authclient"
	"github.com/mkrupp/mediavault/internal/infra/config"
	"github.com/mkrupp/mediavault/internal/infra/logging"
	http_ "github.com/mkrupp/mediavault/internal/infra/transport/http"
	"github.com/mkrupp/mediavault/internal/svc/imagesvc"
)

const svcName = "mediasvc"

func main() {
	var (
		cfg app.Config
		ctx = context.Background()

		configPrefix = strings.ToUpper(strings.Join([]string{app.AppName, svcName}, "_"))
		loggerName   = strings.ToLower(strings.Join([]string{app.AppName, svcName}, "."))
	)

	if err := config.Parse(ctx, &cfg, configPrefix); err != nil {
		panic(err)
	}

	logging.Configure(ctx, cfg.Log, loggerName)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		stop()
		panic(err)
	}
}

func run(ctx context.Context, cfg app.Config) (err error) {
	log := logging.GetLogger("cmd.mediasvc")

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "error", "err", err)
		} else {
			log.InfoContext(ctx, "shutdown")
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}), //nolint:exhaustruct
	)

	services, err := app.Open(ctx, cfg, registry)
	if err != nil {
		return fmt.Errorf("open services: %w", err)
	}
	defer services.Close()

	if cfg.GC.Enabled {
		go services.GC.Schedule(ctx, cfg.GC.Interval(), domain.GCModeOrphan, domain.GCModeRetention)
	}

	authClient := authclient.NewHTTPClient(cfg.AuthClient, nil)
	httpTransport := imagesvc.NewHTTPTransport(services.Media, services.Thumbs, services.Signer, authClient, cfg.HTTP)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})) //nolint:exhaustruct
	mux.Handle("/", httpTransport)

	if err := http_.ListenAndServe(ctx, mux, cfg.HTTP.HTTPTransportConfig); err != nil {
		return fmt.Errorf("listen and serve: %w", err)
	}

	return nil
}
