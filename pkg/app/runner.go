// Package app bootstraps a panelcore instance: session, stores, recovery,
// router, control server, and graceful shutdown.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/small-frappuccino/panelcore/pkg/control"
	"github.com/small-frappuccino/panelcore/pkg/discord/ack"
	"github.com/small-frappuccino/panelcore/pkg/discord/session"
	"github.com/small-frappuccino/panelcore/pkg/files"
	"github.com/small-frappuccino/panelcore/pkg/log"
	"github.com/small-frappuccino/panelcore/pkg/panel"
	"github.com/small-frappuccino/panelcore/pkg/panel/instance"
	"github.com/small-frappuccino/panelcore/pkg/panel/navctx"
	"github.com/small-frappuccino/panelcore/pkg/panel/panels"
	"github.com/small-frappuccino/panelcore/pkg/panel/recovery"
	"github.com/small-frappuccino/panelcore/pkg/panel/remote"
	"github.com/small-frappuccino/panelcore/pkg/panel/router"
	"github.com/small-frappuccino/panelcore/pkg/storage"
	"github.com/small-frappuccino/panelcore/pkg/task"
	"github.com/small-frappuccino/panelcore/pkg/util"
)

// Options tunes the bootstrap. The zero value works for the built-in panels.
type Options struct {
	// ExtraPanels are registered alongside the built-in system and guilds
	// panels.
	ExtraPanels []panel.Definition

	// ControlAddr overrides PANELCORE_CONTROL_ADDR. Empty disables the control
	// server unless the environment sets it.
	ControlAddr string

	// Permissions gates panel access. Nil allows everything.
	Permissions router.PermissionChecker
}

// Run bootstraps the application with a unified flow and blocks until
// shutdown. appName affects data and log paths; tokenEnv is the environment
// variable containing the bot token. The tokenEnv is read from the current
// process environment first; if empty, a fallback $HOME/.local/bin/.env file
// is loaded and the variable re-checked.
func Run(appName, tokenEnv string) error {
	return RunWithOptions(appName, tokenEnv, Options{})
}

// RunWithOptions is Run with explicit wiring.
func RunWithOptions(appName, tokenEnv string, opts Options) error {
	started := time.Now()

	// App name first (affects paths)
	util.SetAppName(appName)

	// Load env (with $HOME/.local/bin fallback)
	token, loadErr := util.LoadEnvWithLocalBinFallback(tokenEnv)
	if loadErr != nil {
		log.ApplicationLogger().Warn(fmt.Sprintf("Warning: %v", loadErr))
	}

	// Logger first so subsequent steps can log meaningfully
	if err := log.SetupLogger(); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	defer log.GlobalLogger.Sync()

	log.ApplicationLogger().Info(fmt.Sprintf("🚀 Starting %s...", appName))

	if token == "" {
		return fmt.Errorf("%s not set in environment or .env file", tokenEnv)
	}

	discordSession, err := session.NewDiscordSession(token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	if discordSession.State == nil || discordSession.State.User == nil {
		return fmt.Errorf("discord session state not properly initialized")
	}
	log.DiscordLogger().Info(fmt.Sprintf("✅ Authenticated as %s", discordSession.State.User.Username))

	if err := util.EnsureDataDirs(); err != nil {
		return fmt.Errorf("create data directories: %w", err)
	}

	settings := files.NewSettingsManager()
	if err := settings.Load(); err != nil {
		log.ErrorLoggerRaw().Error(fmt.Sprintf("Failed to load settings file: %v", err))
	}
	if lv := settings.Get().LogLevel; lv != "" && os.Getenv("PANELCORE_LOG_LEVEL") == "" {
		log.SetLevel(lv)
	}

	// Audit trail (support PANELCORE_AUDIT_DB_PATH override)
	auditPath := util.AuditDBPath()
	if v := os.Getenv("PANELCORE_AUDIT_DB_PATH"); v != "" {
		auditPath = v
	}
	audit := storage.NewAuditStore(auditPath)
	if err := audit.Init(); err != nil {
		return fmt.Errorf("initialize audit store: %w", err)
	}

	instances := instance.NewStore(util.PanelStateDir())
	nav := navctx.NewStore(navctx.DefaultTTL, navctx.DefaultSweepInterval)
	hub := remote.NewHub()
	resolver := ack.NewSessionResolver(discordSession)

	// Background work: audit writes are serialized through the task queue, and
	// the retention cleanup runs nightly.
	tasks := task.NewQueue(task.Defaults())
	tasks.RegisterHandler("audit_record", func(ctx context.Context, payload any) error {
		entry, ok := payload.(storage.Entry)
		if !ok {
			return fmt.Errorf("audit_record payload is %T", payload)
		}
		return audit.Record(entry)
	})
	retentionDays := settings.Get().AuditRetentionDays
	tasks.RegisterHandler("audit_cleanup", func(ctx context.Context, payload any) error {
		removed, err := audit.CleanupOlderThan(time.Now().AddDate(0, 0, -retentionDays))
		if err != nil {
			return err
		}
		if removed > 0 {
			log.ApplicationLogger().Info(fmt.Sprintf("Audit retention removed %d rows", removed))
		}
		return nil
	})
	cancelCleanup := tasks.ScheduleDailyAtUTC(4, 0, task.Task{
		Type:    "audit_cleanup",
		Options: task.Options{IdempotencyKey: "audit_cleanup"},
	})
	defer cancelCleanup()

	registry := panel.NewRegistry()
	builtin := []panel.Definition{
		panels.NewSystemPanel(),
		panels.NewGuildsPanel(panels.SessionGuildSource(discordSession)),
	}
	for _, def := range append(builtin, opts.ExtraPanels...) {
		if err := registry.Register(def); err != nil {
			return fmt.Errorf("register panel %q: %w", def.ID(), err)
		}
	}

	rt, err := router.New(router.Config{
		Registry:          registry,
		Nav:               nav,
		Instances:         instances,
		Resolver:          resolver,
		Permissions:       opts.Permissions,
		Hub:               hub,
		Audit:             queuedRecorder{tasks: tasks},
		SystemListPanelID: panels.SystemPanelID,
		GuildListPanelID:  panels.GuildsPanelID,
	})
	if err != nil {
		return fmt.Errorf("create panel router: %w", err)
	}
	discordSession.AddHandler(rt.HandleInteraction)

	// Recover durable instances from the previous run before serving traffic.
	recoveryCtx, recoveryCancel := context.WithTimeout(context.Background(), time.Minute)
	stats, err := recovery.NewManager(registry, instances, nav, resolver, hub).Run(recoveryCtx)
	recoveryCancel()
	if err != nil {
		log.ErrorLoggerRaw().Error(fmt.Sprintf("Recovery pass aborted: %v", err))
	} else if stats.Scanned > 0 {
		log.ApplicationLogger().Info(fmt.Sprintf("♻️ Recovered %d of %d panel instances (%d pruned)",
			stats.Recovered, stats.Scanned, stats.Pruned))
	}

	controlAddr := opts.ControlAddr
	if controlAddr == "" {
		controlAddr = os.Getenv("PANELCORE_CONTROL_ADDR")
	}
	if controlAddr == "" {
		controlAddr = settings.Get().ControlAddr
	}
	ctrl := control.NewServer(controlAddr, instances, hub, audit)
	if err := ctrl.Start(); err != nil {
		return fmt.Errorf("start control server: %w", err)
	}

	log.ApplicationLogger().Info(fmt.Sprintf("🎯 %s initialized successfully in %s", appName, time.Since(started).Round(time.Millisecond)))
	log.ApplicationLogger().Info(fmt.Sprintf("🤖 %s running. Press Ctrl+C to stop...", appName))

	util.WaitForInterrupt()
	log.ApplicationLogger().Info(fmt.Sprintf("🛑 Stopping %s...", appName))
	log.GlobalLogger.Sync()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := ctrl.Stop(shutdownCtx); err != nil {
		log.ErrorLoggerRaw().Error(fmt.Sprintf("Control server failed to stop cleanly: %v", err))
	}
	hub.Close()
	nav.Close()
	tasks.Close()
	_ = audit.Close()
	_ = session.CloseDiscordSession(discordSession)

	return nil
}

// queuedRecorder routes audit entries through the task queue so a slow disk
// never blocks interaction handling, while writes stay ordered.
type queuedRecorder struct {
	tasks *task.Queue
}

func (r queuedRecorder) Record(e storage.Entry) error {
	return r.tasks.Enqueue(context.Background(), task.Task{
		Type:    "audit_record",
		Payload: e,
		Options: task.Options{GroupKey: "audit"},
	})
}
