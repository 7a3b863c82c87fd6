// Command sentryd is the device-supervision control plane: it loads the
// declarative device config, owns every driver behind the registry,
// drives the scrape scheduler and health state machine, and exposes the
// HTTP/WebSocket dashboard surface, the Prometheus scrape endpoint, and
// the tool-call surface from one process.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	infraconfig "github.com/nestwatch/sentryd/infrastructure/config"
	"github.com/nestwatch/sentryd/infrastructure/logging"
	"github.com/nestwatch/sentryd/infrastructure/metrics"
	"github.com/nestwatch/sentryd/infrastructure/redaction"
	"github.com/nestwatch/sentryd/internal/config"
	"github.com/nestwatch/sentryd/internal/dispatcher"
	_ "github.com/nestwatch/sentryd/internal/driver/all"
	"github.com/nestwatch/sentryd/internal/eventstore"
	"github.com/nestwatch/sentryd/internal/health"
	"github.com/nestwatch/sentryd/internal/httpapi"
	"github.com/nestwatch/sentryd/internal/model"
	"github.com/nestwatch/sentryd/internal/notifier"
	"github.com/nestwatch/sentryd/internal/registry"
	"github.com/nestwatch/sentryd/internal/scheduler"
	"github.com/nestwatch/sentryd/internal/secrets"
)

// Process exit codes.
const (
	exitOK       = 0
	exitConfig   = 1
	exitBind     = 2
	exitInternal = 3
)

const (
	defaultListen   = "0.0.0.0:7777"
	shutdownGrace   = 5 * time.Second
	reloadSpec      = "@every 1m"
	credentialSweep = "@every 1h"
)

func main() {
	os.Exit(run())
}

func run() (code int) {
	// A .env file is a development convenience; its variables feed the
	// Secret Sink's env backend like any other environment variable.
	_ = godotenv.Load()

	encryptValue := flag.String("encrypt-secret", "",
		"encrypt a value under "+secrets.MasterKeyEnv+" for the secrets file, print it, and exit")
	flag.Parse()
	if *encryptValue != "" {
		entry, err := secrets.EncryptValue([]byte(os.Getenv(secrets.MasterKeyEnv)), *encryptValue)
		if err != nil {
			fmt.Fprintf(os.Stderr, "encrypt-secret: %v\n", err)
			return exitConfig
		}
		fmt.Println(entry)
		return exitOK
	}

	configPath := infraconfig.GetEnv("CONFIG_PATH", "")
	if configPath == "" {
		fmt.Fprintln(os.Stderr, "CONFIG_PATH is required")
		return exitConfig
	}

	doc, err := config.LoadDocument(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitConfig
	}

	backends, err := secrets.BuildBackends(doc.Secrets.Backends)
	if err != nil {
		fmt.Fprintf(os.Stderr, "secrets: %v\n", err)
		return exitConfig
	}
	sink := secrets.New(backends...)

	result, err := config.Build(doc, sink)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitConfig
	}

	red := redaction.New(result.Settings.RedactionTerms)
	logger := logging.NewFromEnv("sentryd", red)
	runID := logging.NewTraceID()
	logger.WithFields(map[string]interface{}{
		"run_id":          runID,
		"config_path":     configPath,
		"devices":         len(result.Descriptors),
		"secret_backends": strings.Join(sink.BackendNames(), ","),
	}).Info("starting")

	// An invariant violation anywhere outside a scheduler task (those
	// have their own recovery boundary) is unrecoverable: log and exit 3.
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(map[string]interface{}{"panic": fmt.Sprintf("%v", r)}).Error("internal invariant violation")
			code = exitInternal
		}
	}()

	mets := metrics.New()

	store := eventstore.New(result.Settings.EventStoreCapacity, result.Settings.SubscriptionBuffer,
		func(droppedSeq uint64, category string, severity model.Severity) {
			logger.WithFields(map[string]interface{}{
				"category":         model.CategoryStoreTruncated,
				"dropped_seq":      droppedSeq,
				"dropped_category": category,
				"dropped_severity": string(severity),
			}).Info("event store truncated")
		})
	store.SetAppendHook(func(e model.Event) {
		mets.RecordEvent(string(e.Severity), e.Category)
		logEvent(logger, e)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New(sink)
	for _, desc := range result.Descriptors {
		if _, err := reg.Register(ctx, desc); err != nil {
			fmt.Fprintf(os.Stderr, "register %s: %v\n", desc.ID, err)
			return exitConfig
		}
	}

	eval := health.New(result.Settings.FailureThreshold)
	sched := scheduler.New(reg, eval, store, mets, result.Settings.DefaultInterval)
	sched.Start(ctx)

	emitStartupEvents(store, result)

	disp := dispatcher.New(reg, sched, store, red)
	notif := notifier.New(store, logger)
	api := httpapi.New(reg, store, sched, disp, mets, logger, notif)

	listenAddr := infraconfig.GetEnv("HTTP_LISTEN", defaultListen)
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bind %s: %v\n", listenAddr, err)
		return exitBind
	}

	server := &http.Server{Handler: api.Router(), ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()
	logger.WithFields(map[string]interface{}{"listen": listenAddr}).Info("http surface up")

	jobs := cron.New()
	rl := &reloader{
		path: configPath, sink: sink, reg: reg, sched: sched, eval: eval,
		store: store, logger: logger, ctx: ctx,
	}
	rl.remember()
	_, _ = jobs.AddFunc(reloadSpec, rl.maybeReload)
	_, _ = jobs.AddFunc(credentialSweep, func() { sweepCredentials(ctx, reg, sink, store, logger) })
	jobs.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.WithFields(map[string]interface{}{"signal": sig.String()}).Info("shutting down")
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("http server failed")
			return exitInternal
		}
	}

	// Shutdown sequence: stop accepting calls, cancel
	// schedulers, drain subscribers, close drivers (sched.Stop waits for
	// the tasks and closes each driver), then write the final log line.
	// The logger writes unbuffered to stdout, so there is no separate
	// flush step.
	jobs.Stop()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownGrace)
	_ = server.Shutdown(shutdownCtx)
	cancelShutdown()

	cancel()
	notif.Close()
	sched.Stop()

	logger.WithFields(map[string]interface{}{"run_id": runID}).Info("stopped")
	return exitOK
}

// logEvent mirrors one stored event into the structured log stream,
// mapping event severity to log level. The store keeps event detail as
// its producer built it (only the dispatcher redacts its audit params
// before append), so every detail field passes through the logger's
// redactor here before it reaches a log line.
func logEvent(logger *logging.Logger, e model.Event) {
	fields := map[string]interface{}{
		"seq":      e.Seq,
		"category": e.Category,
		"source":   e.Source,
	}
	if len(e.Detail) > 0 {
		fields["details"] = e.Detail
	}
	entry := logger.WithFields(fields)
	switch e.Severity {
	case model.SeverityAlarm:
		entry.Error(e.Message)
	case model.SeverityWarning:
		entry.Warn(e.Message)
	default:
		entry.Info(e.Message)
	}
}

// emitStartupEvents surfaces config-time findings in the event stream:
// one alarm per disabled device, then one warning per loader warning
// (each clamped value, and each device disabled at load).
func emitStartupEvents(store *eventstore.Store, result *config.Result) {
	for _, desc := range result.Descriptors {
		if !desc.Disabled {
			continue
		}
		store.Append(model.Event{
			Severity: model.SeverityAlarm,
			Category: model.CategoryDeviceConnection,
			Source:   desc.ID,
			Message:  fmt.Sprintf("device %s registered as disabled", desc.ID),
			Detail:   map[string]any{"reason": desc.DisabledReason},
		})
	}
	for _, warning := range result.Warnings {
		store.Append(model.Event{
			Severity: model.SeverityWarning,
			Category: "config",
			Source:   model.SourceSystem,
			Message:  warning,
		})
	}
}

// reloader re-reads the config document when its mtime changes and swaps
// the device set transactionally. A failed reload leaves the
// running set untouched and surfaces one warning event.
type reloader struct {
	path   string
	sink   *secrets.Sink
	reg    *registry.Registry
	sched  *scheduler.Scheduler
	eval   *health.Evaluator
	store  *eventstore.Store
	logger *logging.Logger
	ctx    context.Context

	lastModTime time.Time
}

func (r *reloader) remember() {
	if info, err := os.Stat(r.path); err == nil {
		r.lastModTime = info.ModTime()
	}
}

func (r *reloader) maybeReload() {
	info, err := os.Stat(r.path)
	if err != nil || !info.ModTime().After(r.lastModTime) {
		return
	}
	r.lastModTime = info.ModTime()

	result, err := config.Load(r.path, r.sink)
	if err != nil {
		r.store.Append(model.Event{
			Severity: model.SeverityWarning,
			Category: "config",
			Source:   model.SourceSystem,
			Message:  "config reload aborted, previous device set stays live",
			Detail:   map[string]any{"error": err.Error()},
		})
		return
	}

	oldHandles := r.reg.Handles()
	diff, err := r.reg.Reload(r.ctx, result.Descriptors)
	if err != nil {
		r.store.Append(model.Event{
			Severity: model.SeverityWarning,
			Category: "config",
			Source:   model.SourceSystem,
			Message:  "config reload aborted, previous device set stays live",
			Detail:   map[string]any{"error": err.Error()},
		})
		return
	}

	// Every surviving device got a fresh handle and driver; restart all
	// scheduler tasks against the new set. Removed devices also drop
	// their health-overlay history.
	for _, h := range oldHandles {
		r.sched.StopDevice(h)
	}
	for _, h := range r.reg.Handles() {
		r.sched.StartDevice(r.ctx, h)
	}
	for _, id := range diff.Removed {
		r.eval.Forget(id)
	}

	r.store.Append(model.Event{
		Severity: model.SeverityInfo,
		Category: "config",
		Source:   model.SourceSystem,
		Message:  "config reloaded",
		Detail: map[string]any{
			"added": diff.Added, "removed": diff.Removed, "replaced": diff.Replaced,
		},
	})
}

// sweepCredentials re-resolves every configured credential reference on a
// slow cadence so an expired secrets file or unreachable manager surfaces
// as a warning event before the affected device's next auth failure.
func sweepCredentials(ctx context.Context, reg *registry.Registry, sink *secrets.Sink, store *eventstore.Store, logger *logging.Logger) {
	for _, view := range reg.List() {
		ref := view.Descriptor.CredentialRef
		if ref == "" || view.Descriptor.Mock || view.Descriptor.Disabled {
			continue
		}
		resolveCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		_, err := sink.Resolve(resolveCtx, ref)
		cancel()
		if err == nil {
			continue
		}
		store.Append(model.Event{
			Severity: model.SeverityWarning,
			Category: "credential_refresh",
			Source:   view.Descriptor.ID,
			Message:  fmt.Sprintf("credential for %s no longer resolves", view.Descriptor.ID),
			Detail:   map[string]any{"credential_ref": ref},
		})
		logger.WithFields(map[string]interface{}{
			"device":         view.Descriptor.ID,
			"credential_ref": ref,
		}).Warn("credential refresh sweep failed")
	}
}
