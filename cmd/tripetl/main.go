// Command tripetl loads staged transit trip files into the relational store.
//
//	tripetl schema [-reset] [-create-database]   create (or recreate) tables and the trips_time view
//	tripetl stage                                mirror staged files from the bucket into the local tree
//	tripetl load [-dir data] [-stage]            extract, transform and load every staged file
//	tripetl serve                                serve the trips_time view over HTTP
//
// Configuration comes from the environment and an optional .env file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"transit-etl/internal/api"
	"transit-etl/internal/config"
	"transit-etl/internal/db"
	"transit-etl/internal/etl"
	"transit-etl/internal/metrics"
	"transit-etl/internal/publisher"
	"transit-etl/internal/staging"
)

func usage(w io.Writer) {
	fmt.Fprintln(w, "tripetl - commands:")
	fmt.Fprintln(w, "  schema   create tables and the trips_time view")
	fmt.Fprintln(w, "  stage    download staged files from the bucket")
	fmt.Fprintln(w, "  load     load staged files into the database")
	fmt.Fprintln(w, "  serve    serve the trips_time view as JSON")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  tripetl schema [-reset] [-create-database]")
	fmt.Fprintln(w, "  tripetl stage")
	fmt.Fprintln(w, "  tripetl load [-dir data] [-stage]")
	fmt.Fprintln(w, "  tripetl serve")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var code int
	switch cmd := os.Args[1]; cmd {
	case "schema":
		code = runSchema(ctx, cfg, os.Args[2:])
	case "stage":
		code = runStage(ctx, cfg, os.Args[2:])
	case "load":
		code = runLoad(ctx, cfg, os.Args[2:])
	case "serve":
		code = runServe(ctx, cfg, os.Args[2:])
	case "-h", "--help", "help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage(os.Stderr)
		code = 2
	}
	cancel()
	os.Exit(code)
}

func runSchema(ctx context.Context, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("schema", flag.ExitOnError)
	reset := fs.Bool("reset", false, "Drop the view and all tables before creating them")
	createDB := fs.Bool("create-database", false, "Drop and recreate the database itself (postgres only)")
	_ = fs.Parse(args)

	if *createDB {
		if cfg.DBDriver != db.Postgres {
			log.Printf("-create-database is only supported for postgres")
			return 1
		}
		if err := db.CreateDatabase(ctx, cfg.DatabaseURL); err != nil {
			log.Printf("create database: %v", err)
			return 1
		}
		log.Printf("database recreated")
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Printf("%v", err)
		return 1
	}
	defer store.Close()

	if *reset {
		err = store.Reset(ctx)
	} else {
		err = store.EnsureSchema(ctx)
	}
	if err != nil {
		log.Printf("%v", err)
		return 1
	}
	log.Printf("schema ready on %s (%s)", cfg.DBDriver, joinTables())
	return 0
}

func runStage(ctx context.Context, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("stage", flag.ExitOnError)
	_ = fs.Parse(args)

	mcol, stop := startMetrics(cfg)
	defer stop()
	if err := stage(ctx, cfg, mcol); err != nil {
		log.Printf("stage: %v", err)
		return 1
	}
	pushMetrics(cfg, mcol)
	return 0
}

func stage(ctx context.Context, cfg *config.Config, mcol *metrics.Collector) error {
	opts := staging.Options{
		Bucket:    cfg.StagingBucket,
		Prefix:    cfg.StagingPrefix,
		Endpoint:  cfg.StagingEndpoint,
		Region:    cfg.StagingRegion,
		Anonymous: cfg.StagingAnonymous,
	}
	client, err := staging.NewClient(opts)
	if err != nil {
		return err
	}
	if err := staging.EnsureDirectories(cfg.StagingDest); err != nil {
		return fmt.Errorf("create data directories: %w", err)
	}
	log.Printf("Starting download")
	rep, err := staging.NewMirror(client, opts, cfg.StagingDest, mcol).Sync(ctx)
	if err != nil {
		return err
	}
	log.Printf("staging done: listed=%d downloaded=%d unchanged=%d rejected=%d",
		rep.Listed, rep.Downloaded, rep.Unchanged, len(rep.Rejected))
	return nil
}

func runLoad(ctx context.Context, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	dir := fs.String("dir", cfg.DataDir, "Root directory of staged files")
	withStage := fs.Bool("stage", false, "Mirror the bucket before loading")
	_ = fs.Parse(args)

	mcol, stop := startMetrics(cfg)
	defer stop()

	if *withStage {
		if err := stage(ctx, cfg, mcol); err != nil {
			log.Printf("stage: %v", err)
			return 1
		}
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Printf("%v", err)
		return 1
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		log.Printf("%v", err)
		return 1
	}

	var events etl.EventPublisher
	if cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, wrapPublisherMetrics(mcol))
		if err != nil {
			log.Printf("nats error: %v", err)
			return 1
		}
		defer pub.Close()
		events = pub
	}

	batch := etl.NewBatch(db.NewLoader(store), cfg.Location, cfg.ProgressEvery, mcol, events)
	rep, err := batch.Run(ctx, *dir)
	pushMetrics(cfg, mcol)
	if err != nil {
		log.Printf("batch failed: %v", err)
		return 1
	}
	for _, s := range rep.Skipped {
		log.Printf("skipped %s: %v", s.Path, s.Err)
	}
	return 0
}

func runServe(ctx context.Context, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", cfg.ListenAddr, "Listen address")
	_ = fs.Parse(args)

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Printf("%v", err)
		return 1
	}
	defer store.Close()

	var metricsHandler http.Handler
	if cfg.MetricsAddr != "" {
		metricsHandler = metrics.NewCollector().Handler()
	}
	srv := &http.Server{
		Addr:              *addr,
		Handler:           api.NewServer(store, metricsHandler).Router(cfg.CORSOrigins),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("API server starting on %s", *addr)
	log.Println("  GET /api/trips-time")
	log.Println("  GET /health")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("server error: %v", err)
		return 1
	}
	log.Println("shutdown complete")
	return 0
}

func openStore(ctx context.Context, cfg *config.Config) (*db.DB, error) {
	store, err := db.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.Ping(ctx, store); err != nil {
		store.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return store, nil
}

// startMetrics returns a collector when metrics are exported one way or
// another, and a func that stops the /metrics server if one was started.
func startMetrics(cfg *config.Config) (*metrics.Collector, func()) {
	if cfg.MetricsAddr == "" && cfg.PushgatewayURL == "" {
		return nil, func() {}
	}
	mcol := metrics.NewCollector()
	if cfg.MetricsAddr == "" {
		return mcol, func() {}
	}
	srv := mcol.Serve(cfg.MetricsAddr)
	return mcol, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}

func pushMetrics(cfg *config.Config, mcol *metrics.Collector) {
	if mcol == nil || cfg.PushgatewayURL == "" {
		return
	}
	if err := mcol.Push(cfg.PushgatewayURL, "tripetl"); err != nil {
		log.Printf("pushgateway: %v", err)
	}
}

func joinTables() string {
	names := append(append([]string{}, db.Tables...), db.ViewTripsTime)
	return strings.Join(names, ", ")
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()  { p.c.EventsPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc() { p.c.EventPublishErrs.Inc() }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
