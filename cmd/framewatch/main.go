package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/ayusman/framewatch/internal/app"
	"github.com/ayusman/framewatch/internal/config"
	"github.com/ayusman/framewatch/internal/detector"
	"github.com/ayusman/framewatch/internal/events"
	"github.com/ayusman/framewatch/internal/server"
	"github.com/ayusman/framewatch/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "framewatch: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	dataDir := defaultDataDir()

	configPath := flag.String("config", filepath.Join(dataDir, "config.yaml"), "path to YAML configuration")
	addr := flag.String("addr", "", "HTTP listen address (overrides server.addr)")
	source := flag.String("source", "", "start capturing from this address on startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger := cfg.Log.Logger(os.Stderr)
	slog.SetDefault(logger)

	// Initialize the store
	dbPath := cfg.Store.Path
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(dataDir, dbPath)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	st, err := store.New(dbPath)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	// Progress sinks
	hub := server.NewHub(logger)
	defer hub.Close()
	sinks := events.Multi{events.NewLogSink(logger), hub}

	if cfg.MQTT.Broker != "" {
		mq, err := events.NewMQTTSink(events.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			QoS:      cfg.MQTT.QoS,
		}, logger)
		if err != nil {
			logger.Warn("MQTT not available, progress will not be published", "error", err)
		} else {
			defer mq.Close()
			sinks = append(sinks, mq)
		}
	}

	mgr := app.NewManager(app.ConfigFrom(cfg), st, sinks, logger)

	// Use the external model when configured, fall back to the placeholder
	if cfg.Scorer.Command != "" {
		ps, err := detector.NewProcessScorer(cfg.Scorer.Command, cfg.Scorer.Args...)
		if err != nil {
			logger.Warn("model process not available, using placeholder scorer", "error", err)
		} else if err := ps.SetCodec(detector.Codec(cfg.Scorer.Codec)); err != nil {
			logger.Warn("model process not available, using placeholder scorer", "error", err)
		} else {
			ps.SetIdleTimeout(cfg.Scorer.IdleTimeout)
			defer ps.Close()
			mgr.SetScorer(ps)
			logger.Info("using model process", "command", cfg.Scorer.Command, "codec", cfg.Scorer.Codec)
		}
	}

	staticDir := cfg.Server.StaticDir
	if staticDir == "" {
		staticDir = findWebDir(dataDir)
	}
	if staticDir != "" {
		logger.Info("serving static files", "dir", staticDir)
	}

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: server.New(server.Config{
			StaticDir: staticDir,
			Pipeline:  mgr,
			Hub:       hub,
			Logger:    logger,
		}),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if *source != "" {
		if info, err := mgr.StartVideo(*source); err != nil {
			logger.Error("failed to start capture", "source", *source, "error", err)
		} else {
			logger.Info("capture started", "source", *source, "run", info.ID)
		}
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)

	daemon.SdNotify(false, daemon.SdNotifyReady)

	select {
	case sig := <-sigc:
		logger.Info("caught signal, shutting down", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	daemon.SdNotify(false, daemon.SdNotifyStopping)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := mgr.Shutdown(ctx); err != nil {
		logger.Warn("capture shutdown", "error", err)
	}
	return nil
}

// defaultDataDir returns ~/.framewatch, or the working directory when the
// home directory is unknown.
func defaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(homeDir, ".framewatch")
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and <dataDir>/web.
// Returns the first existing directory or empty string if none found.
func findWebDir(dataDir string) string {
	for _, p := range []string{"web", "../web", "../../web", filepath.Join(dataDir, "web")} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}
