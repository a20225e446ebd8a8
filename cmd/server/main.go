package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/shebangremote/shebang-remote/internal/api"
	"github.com/shebangremote/shebang-remote/internal/events"
	"github.com/shebangremote/shebang-remote/internal/lifecycle"
	"github.com/shebangremote/shebang-remote/internal/storage"
)

func main() {
	httpAddr := flag.String("http-addr", ":8000", "HTTP listen address")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics listen address")
	dbPath := flag.String("db", "./data/badger", "Badger DB path")
	natsURL := flag.String("nats-url", "", "NATS server URL for lifecycle events (empty disables)")
	trace := flag.Bool("trace", false, "emit traces to stdout")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	if *trace {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			log.Fatalw("create trace exporter", "error", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(tp)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(ctx)
		}()
	}

	store, err := storage.NewBadgerStore(*dbPath)
	if err != nil {
		log.Fatalw("open badger store", "error", err, "path", *dbPath)
	}
	defer store.Close()

	var publisher *events.Publisher
	if *natsURL != "" {
		publisher, err = events.NewPublisher(*natsURL, log)
		if err != nil {
			log.Fatalw("connect nats", "error", err, "url", *natsURL)
		}
		defer publisher.Close()
	}

	mgr := lifecycle.New(store)

	httpServer := &http.Server{
		Addr:    *httpAddr,
		Handler: api.NewHTTPHandler(mgr, publisher, log),
	}
	go func() {
		log.Infow("http server listening", "addr", *httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("http listen", "error", err)
		}
	}()

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		api.RegisterMetrics(mux)
		log.Infow("prometheus metrics available", "addr", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
			log.Fatalw("metrics server", "error", err)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("shutdown initiated")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warnw("http server shutdown", "error", err)
	}
	log.Info("shutdown complete")
}
