package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/dotcommander/ink/internal/app"
	"github.com/dotcommander/ink/internal/feed"
	"github.com/dotcommander/ink/internal/models"
	"github.com/dotcommander/ink/internal/server"
	"github.com/dotcommander/ink/internal/session"
	"github.com/dotcommander/ink/internal/store"
)

type pipelineOptions struct {
	projectDir     string
	resumeID       string
	instanceID     int
	nonInteractive bool
	noStore        bool
}

// pipeline bundles one wired control plane: socket server, session manager,
// and the backing store.
type pipeline struct {
	projectDir string
	sessionID  string
	socketPath string
	server     *server.Server
	store      *store.SessionStore
	manager    *session.Manager
}

// buildPipeline wires store -> mapper -> policy -> server for one project,
// creating a fresh session or resuming an existing one.
func buildPipeline(opts pipelineOptions) (*pipeline, error) {
	if err := app.EnsureProjectDirs(opts.projectDir); err != nil {
		return nil, err
	}

	sessionID := opts.resumeID
	if sessionID == "" {
		sessionID = models.NewSessionID()
	}

	var st *store.SessionStore
	if !opts.noStore {
		dbPath := app.SessionDBPath(opts.projectDir, sessionID)
		if opts.resumeID != "" {
			if _, err := os.Stat(dbPath); err != nil {
				return nil, fmt.Errorf("resume %s: %w", opts.resumeID, store.ErrSessionNotFound)
			}
		}
		var err error
		st, err = store.Open(dbPath, sessionID, opts.projectDir)
		if err != nil {
			return nil, err
		}
	}

	mapper := feed.New(sessionID)
	if opts.resumeID != "" && st != nil {
		boot, err := st.ToBootstrap()
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("bootstrap session %s: %w", opts.resumeID, err)
		}
		mapper = feed.NewFromBootstrap(boot)
	}

	rules, err := app.EffectiveRules(opts.projectDir)
	if err != nil {
		st.Close()
		return nil, err
	}
	settings, _ := app.LoadSettings()

	socketPath := app.SocketPath(opts.projectDir, opts.instanceID)
	srv, err := server.New(server.Config{
		SocketPath:    socketPath,
		WaitOverrides: waitOverrides(app.EffectiveDecisionWaits()),
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	mgr, err := session.New(session.Config{
		Server:         srv,
		Mapper:         mapper,
		Store:          st,
		Rules:          rules,
		QuestionTool:   settings.QuestionTool,
		NonInteractive: opts.nonInteractive,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	return &pipeline{
		projectDir: opts.projectDir,
		sessionID:  sessionID,
		socketPath: socketPath,
		server:     srv,
		store:      st,
		manager:    mgr,
	}, nil
}

// waitOverrides converts configured decision waits into the server's
// per-kind override map.
func waitOverrides(w app.DecisionWaits) map[models.EventKind]time.Duration {
	overrides := map[models.EventKind]time.Duration{}
	if w.Decision > 0 {
		overrides[models.KindPermissionRequest] = w.Decision
		overrides[models.KindToolPre] = w.Decision
	}
	if w.Stop > 0 {
		overrides[models.KindStopRequest] = w.Stop
	}
	return overrides
}

// close tears the pipeline down in reverse wiring order. Safe to call after
// a partial start.
func (p *pipeline) close() {
	_ = p.server.Stop()
	p.manager.Close()
	p.store.Close()
}
