package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"refnet/observability/logging"
	telemetry "refnet/observability/otel"
	"refnet/services/indexd/config"
	"refnet/services/indexd/indexer"
	"refnet/services/indexd/server"
	"refnet/services/indexd/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/indexd/config.yaml", "path to indexd configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("REFNET_ENV"))
	logging.Setup("indexd", env)
	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "indexd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		log.Fatalf("indexd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("indexd: load config: %v", err)
	}

	dsn, err := storage.FileDSN(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("indexd: resolve storage DSN: %v", err)
	}
	store, err := storage.Open(dsn)
	if err != nil {
		log.Fatalf("indexd: open storage: %v", err)
	}
	defer store.Close()

	ix, err := indexer.New(store, cfg.Node.WebsocketURL, cfg.Node.Reconnect.Duration)
	if err != nil {
		log.Fatalf("indexd: indexer: %v", err)
	}
	log.Printf("indexd: starting run %s against %s", ix.RunID(), cfg.Node.WebsocketURL)

	srv, err := server.New(server.Config{ListenAddress: cfg.ListenAddress}, store, log.Default())
	if err != nil {
		log.Fatalf("indexd: server: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := ix.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("indexd: indexer exited: %v", err)
			stop()
		}
	}()

	if err := srv.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("indexd: http server error: %v", err)
		os.Exit(1)
	}
}
