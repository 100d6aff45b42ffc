package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/battesty/battesty/internal/collector"
	"github.com/battesty/battesty/internal/config"
	dbussvc "github.com/battesty/battesty/internal/dbus"
	"github.com/battesty/battesty/internal/engine"
	"github.com/battesty/battesty/internal/storage"
)

// topicHandler wraps an slog.Handler and filters records by a "topic" attribute.
// Records without a topic attribute always pass through (startup messages, errors).
// Records with a topic only pass if that topic is enabled.
type topicHandler struct {
	inner  slog.Handler
	topics map[string]bool
	topic  string // set when WithAttrs includes a "topic" key
}

func (h *topicHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.inner.Enabled(context.Background(), level)
}

func (h *topicHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.topics["all"] {
		return h.inner.Handle(ctx, r)
	}
	topic := h.topic
	if topic == "" {
		// Check record-level attrs as fallback.
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "topic" {
				topic = a.Value.String()
				return false
			}
			return true
		})
	}
	if topic != "" && !h.topics[topic] {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *topicHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	topic := h.topic
	for _, a := range attrs {
		if a.Key == "topic" {
			topic = a.Value.String()
		}
	}
	return &topicHandler{inner: h.inner.WithAttrs(attrs), topics: h.topics, topic: topic}
}

func (h *topicHandler) WithGroup(name string) slog.Handler {
	return &topicHandler{inner: h.inner.WithGroup(name), topics: h.topics, topic: h.topic}
}

func main() {
	configPath := flag.String("config", "/etc/battesty/config.toml", "path to config file")
	verbose := flag.Bool("verbose", false, "enable all verbose logging (equivalent to -log=all)")
	logFlag := flag.String("log", "", "comma-separated log topics: sample,session,eta (or 'all')")
	resetDB := flag.Bool("reset-db", false, "delete the database and start fresh")
	flag.Parse()

	topics := make(map[string]bool)
	if *verbose {
		topics["all"] = true
	}
	if *logFlag != "" {
		for _, t := range strings.Split(*logFlag, ",") {
			topics[strings.TrimSpace(t)] = true
		}
	}

	handler := &topicHandler{
		inner:  slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}),
		topics: topics,
	}
	logger := slog.New(handler)

	sampleLog := logger.With("topic", "sample")
	sessionLog := logger.With("topic", "session")
	etaLog := logger.With("topic", "eta")

	cfg, err := config.Load(*configPath)
	if os.IsNotExist(err) {
		logger.Info("no config file, using defaults", "path", *configPath)
		cfg = config.DefaultConfig()
	} else if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0755); err != nil {
		logger.Error("create data dir", "err", err)
		os.Exit(1)
	}

	if *resetDB {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(cfg.Storage.DBPath + suffix); err != nil && !os.IsNotExist(err) {
				logger.Error("delete database", "err", err)
				os.Exit(1)
			}
		}
		logger.Info("database deleted", "path", cfg.Storage.DBPath)
		return
	}

	store, err := storage.Open(cfg.Storage.DBPath)
	if err != nil {
		logger.Error("open database", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	profile, found, err := store.LoadCapacityProfile()
	if err != nil {
		logger.Error("load capacity profile", "err", err)
		os.Exit(1)
	}
	if found {
		logger.Info("loaded capacity profile",
			"measured_full_mwh", profile.MeasuredFullMWH,
			"cycle_count", profile.CycleCount)
	}
	nextID, err := store.NextSessionID()
	if err != nil {
		logger.Error("read session history", "err", err)
		os.Exit(1)
	}

	writer := storage.NewWriter(store, logger)
	defer writer.Close()

	eng := engine.New(engine.Options{
		Profile:       profile,
		NextSessionID: nextID,
		MinConfidence: cfg.Engine.MinConfidence,
		Sink:          writer,
		Logger:        sessionLog,
	})

	svc := dbussvc.NewService(eng, store)
	conn, err := svc.Export()
	if err != nil {
		logger.Error("export dbus service", "err", err)
		os.Exit(1)
	}
	defer conn.Close()
	logger.Info("D-Bus service registered", "name", "org.battesty.Engine")

	source := collector.NewBatterySource()

	interval := time.Duration(cfg.Sampling.IntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(time.Duration(cfg.Cleanup.IntervalHours) * time.Hour)
	defer cleanupTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("battesty-daemon started", "interval", interval)
	for {
		select {
		case <-ticker.C:
			sample, err := source.Collect()
			if err != nil {
				sampleLog.Debug("collect failed", "err", err)
				continue
			}
			sampleLog.Info("sample",
				"percent", sample.ChargePercent,
				"current_ma", sample.CurrentMA,
				"voltage_mv", sample.VoltageMV,
				"charging", sample.Charging)
			est, err := eng.Observe(*sample)
			if err != nil {
				sampleLog.Debug("sample rejected", "err", err)
				continue
			}
			etaLog.Info("estimate",
				"kind", est.Kind,
				"duration", est.Duration,
				"confidence", est.Confidence,
				"display", est.String())
		case <-cleanupTicker.C:
			cutoff := time.Now().AddDate(0, 0, -cfg.Cleanup.RetentionDays)
			deleted, err := store.DeleteSessionsOlderThan(cutoff)
			if err != nil {
				logger.Error("session cleanup", "err", err)
			} else if deleted > 0 {
				logger.Info("session cleanup", "deleted", deleted, "cutoff", cutoff)
			}
		case <-sigCh:
			logger.Info("shutting down")
			if err := eng.Close(); err != nil {
				logger.Error("close engine", "err", err)
			}
			writer.Close()
			return
		}
	}
}
