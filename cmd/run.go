package cmd

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/archive"
	"github.com/parleyhq/parley/internal/bus"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/lifecycle"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/memory"
	"github.com/parleyhq/parley/internal/orchestrator"
	"github.com/parleyhq/parley/internal/provider"
	"github.com/parleyhq/parley/internal/registry"
	"github.com/parleyhq/parley/internal/shutdown"
	"github.com/parleyhq/parley/internal/tracing"
	"github.com/parleyhq/parley/internal/workflow"

	// Provider factories register themselves via init().
	_ "github.com/parleyhq/parley/internal/provider/cli"
	_ "github.com/parleyhq/parley/internal/provider/filebridge"
	_ "github.com/parleyhq/parley/internal/provider/mock"
	_ "github.com/parleyhq/parley/internal/provider/ollama"
	_ "github.com/parleyhq/parley/internal/provider/remote"
)

var (
	runSessionID  string
	runBaseBranch string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a configured orchestration session",
	Long: `Run builds an orchestrator from the configured CIs, starts each
CI's provider, starts the workflow, and tears everything down on exit
or on SIGINT/SIGTERM.`,
	RunE: runSession,
}

func init() {
	runCmd.Flags().StringVar(&runSessionID, "session", "", "session id (default: generated)")
	runCmd.Flags().StringVar(&runBaseBranch, "base-branch", "", "base branch (default: from config)")
	rootCmd.AddCommand(runCmd)
}

func runSession(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	tp, err := tracing.NewProvider(tracingConfig(cfg.Tracing))
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}()

	var store *archive.Store
	if cfg.Archive.Enabled {
		path := cfg.Archive.Path
		if path == "" {
			path = config.DefaultArchivePath()
		}
		store, err = archive.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	wf, err := sessionWorkflow(cfg.Workflow)
	if err != nil {
		return err
	}

	stop := shutdown.Default().HandleSignals()
	defer stop()

	sessionID := runSessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	baseBranch := runBaseBranch
	if baseBranch == "" {
		baseBranch = cfg.Session.BaseBranch
	}

	ocfg := orchestrator.Config{
		Registry: registry.Config{
			BasePort:      cfg.Ports.Base,
			MaxEntries:    cfg.Ports.MaxEntries,
			HealthTimeout: cfg.Heartbeat.Timeout,
		},
		Lifecycle: lifecycle.Config{
			HeartbeatTimeout: cfg.Heartbeat.Timeout,
			MaxMissed:        cfg.Heartbeat.MaxMissed,
		},
		Bus: bus.Config{
			QueueCapacity:  cfg.Bus.QueueCapacity,
			PendingCap:     cfg.Bus.PendingCap,
			RequestTimeout: cfg.Bus.RequestTimeout,
		},
		Workflow: wf,
		Tracer:   tp.Tracer(),
	}
	if store != nil {
		ocfg.Archiver = store
	}

	if store != nil {
		if err := store.RecordSession(sessionID, baseBranch, "parley/"+sessionID, time.Now()); err != nil {
			log.Warn(log.CatArchive, "Session record failed", "session", sessionID, "error", err)
		}
	}

	err = orchestrator.RunSession(cmd.Context(), sessionID, baseBranch, ocfg, func(o *orchestrator.Orchestrator) error {
		return setupCIs(cmd.Context(), o, store)
	})

	if store != nil {
		if cerr := store.CompleteSession(sessionID, time.Now()); cerr != nil {
			log.Warn(log.CatArchive, "Session completion stamp failed", "session", sessionID, "error", cerr)
		}
	}
	return err
}

// setupCIs registers, binds, and starts every configured CI.
func setupCIs(ctx context.Context, o *orchestrator.Orchestrator, store *archive.Store) error {
	for _, ci := range cfg.CIs {
		if _, err := o.AddCI(ci.Name, registry.Role(ci.Role), ci.Model, ci.Port); err != nil {
			return err
		}

		pcfg := provider.Config{
			Name:         ci.Name,
			Model:        ci.Model,
			MaxTokens:    ci.MaxTokens,
			ContextLimit: ci.ContextLimit,
			Extensions:   ci.Extensions,
		}
		p, err := provider.New(provider.Type(ci.Provider), pcfg)
		if err != nil {
			return err
		}
		if err := o.BindProvider(ci.Name, p); err != nil {
			return err
		}

		if ci.ContextLimit > 0 {
			d, err := sessionDigest(o.SessionID(), ci.Name, ci.ContextLimit, store)
			if err != nil {
				return err
			}
			if err := o.BindDigest(ci.Name, d); err != nil {
				return err
			}
		}

		if err := o.StartCI(ctx, ci.Name); err != nil {
			return err
		}
	}
	return nil
}

// sessionDigest builds a CI's digest, resuming from the archived snapshot
// when one exists.
func sessionDigest(sessionID, ciName string, contextLimit int, store *archive.Store) (*memory.Digest, error) {
	if store != nil {
		if snap, err := store.LatestDigest(ciName); err == nil {
			return memory.Resume(snap, sessionID, contextLimit)
		}
	}
	return memory.New(sessionID, ciName, contextLimit)
}

// sessionWorkflow loads the configured phase profile, defaulting to the
// built-in phases.
func sessionWorkflow(wc config.WorkflowConfig) (*workflow.Workflow, error) {
	if wc.Profile == "" {
		return workflow.Default(), nil
	}
	return workflow.LoadProfile(wc.Profile)
}

// tracingConfig maps the file config onto the tracing subsystem's own
// config, filling defaulted paths.
func tracingConfig(tc config.TracingConfig) tracing.Config {
	out := tracing.Config{
		Enabled:      tc.Enabled,
		Exporter:     tc.Exporter,
		FilePath:     tc.FilePath,
		OTLPEndpoint: tc.OTLPEndpoint,
		SampleRate:   tc.SampleRate,
	}
	if out.Enabled && out.Exporter == "file" && out.FilePath == "" {
		out.FilePath = config.DefaultTracesFilePath()
	}
	return out
}
