package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/archiegate/guardian/internal/approval"
	"github.com/archiegate/guardian/internal/audit"
	"github.com/archiegate/guardian/internal/config"
	"github.com/archiegate/guardian/internal/dispatch"
	"github.com/archiegate/guardian/internal/gate"
	"github.com/archiegate/guardian/internal/ingest"
	"github.com/archiegate/guardian/internal/metrics"
	"github.com/archiegate/guardian/internal/model"
	"github.com/archiegate/guardian/internal/oracle"
	"github.com/archiegate/guardian/internal/orch"
	"github.com/archiegate/guardian/internal/queue"
	"github.com/archiegate/guardian/internal/scorer"
	"github.com/archiegate/guardian/internal/server"
	"github.com/archiegate/guardian/internal/store"
	"github.com/archiegate/guardian/internal/widget"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the guardian daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

// runDaemon wires the pipeline and blocks until SIGINT or SIGTERM.
// Configuration problems are fatal here; after startup, only signals stop it.
func runDaemon() error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	level, err := model.ParsePermissionLevel(cfg.PermissionLevel)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	auditPath, err := cfg.ResolveAuditPath()
	if err != nil {
		return err
	}
	auditLog, err := audit.Open(auditPath)
	if err != nil {
		return err
	}
	defer auditLog.Close()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	q := queue.New(cfg.QueueCapacity)
	registry := prometheus.NewRegistry()
	mets := metrics.New(registry, q.Dropped)

	var ocl scorer.Oracle
	if cfg.Oracle.Enabled {
		ocl = oracle.New(oracle.Config{
			APIURL:    cfg.Oracle.APIURL,
			APIKey:    cfg.Oracle.APIKey,
			Model:     cfg.Oracle.Model,
			MaxTokens: cfg.Oracle.MaxTokens,
			Timeout:   cfg.Oracle.Timeout.Std(),
		})
	}
	sc := scorer.New(cfg.Scoring, ocl)

	g := gate.New(level, auditLog, cfg.Scoring.AutoRespondMin, cfg.EscalationTimeout.Std())
	d := dispatch.New(auditLog, "")

	var sink orch.Sink
	var st *store.Store
	if cfg.Postgres.DSN != "" {
		st, err = store.Open(context.Background(), cfg.Postgres.DSN, logger)
		if err != nil {
			return err
		}
		defer st.Close()
		sink = st
	}

	o := orch.New(q, sc, g, d, auditLog, mets, sink)

	manager, err := widget.NewManager(cfg.Widgets, q, auditLog)
	if err != nil {
		return err
	}

	_ = auditLog.Recordf(audit.KindStartup, "guardian %s level=%s", version, level)
	logger.Info("guardian starting", "version", version, "permission_level", string(level))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Start(ctx); err != nil {
		return err
	}

	var sub *ingest.Subscriber
	if cfg.NATS.URL != "" {
		nc, err := ingest.Connect(cfg.NATS.URL)
		if err != nil {
			return err
		}
		sub = ingest.NewSubscriber(nc, cfg.NATS.Subject, q, logger)
		if err := sub.Start(); err != nil {
			return err
		}
	}

	srv := server.New(g, manager, o, auditLog, registry, logger)
	serverDone := make(chan error, 1)
	go func() { serverDone <- srv.Serve(ctx, cfg.HTTPAddr) }()

	if approval.Interactive() {
		go approval.New(g).Run(ctx)
	} else {
		logger.Info("no terminal attached; escalations resolve via the control API or time out")
	}

	orchDone := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(orchDone)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	if sig == syscall.SIGINT {
		_ = auditLog.Record(audit.KindInterrupt, "SIGINT received")
	}
	logger.Info("shutting down", "signal", sig.String())

	// Stop producers first, then drain: widgets close their channels, the
	// queue closes, and the orchestrator finishes whatever is in flight.
	manager.Stop()
	if sub != nil {
		sub.Close()
	}
	q.Close()
	<-orchDone

	cancel()
	if err := <-serverDone; err != nil {
		logger.Warn("control API shutdown", "error", err)
	}

	stats := o.Stats()
	_ = auditLog.Recordf(audit.KindShutdown,
		"processed=%d denied=%d failed=%d dropped=%d",
		stats.Processed, stats.Denied, stats.Failed, stats.Dropped)
	logger.Info("guardian stopped",
		"processed", stats.Processed,
		"denied", stats.Denied,
		"failed", stats.Failed)
	return nil
}
