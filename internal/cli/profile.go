package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/lineage/internal/config"
	"github.com/roach88/lineage/internal/engine"
	"github.com/roach88/lineage/internal/process"
	"github.com/roach88/lineage/internal/repository"
	"github.com/roach88/lineage/internal/store"
	"github.com/roach88/lineage/internal/transport"
)

// profile is an opened configuration: logger, object repository and store.
type profile struct {
	cfg   *config.Config
	store *store.Store
	user  *store.User
}

// loadConfig reads the configuration named by the global flags.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Database != "" {
		cfg.Database.Path = opts.Database
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// setupLogging installs the default slog logger on w.
func setupLogging(cfg *config.Config, w io.Writer) error {
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	hopts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(w, hopts)
	} else {
		handler = slog.NewTextHandler(w, hopts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// openProfile loads the configuration, sets up logging on logw and opens
// the repository and the store. Callers must call close.
func openProfile(ctx context.Context, opts *RootOptions, logw io.Writer) (*profile, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if err := setupLogging(cfg, logw); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid log config", err)
	}

	var objs *repository.BadgerStore
	if cfg.Repository.Path != "" {
		objs, err = repository.Open(repository.Options{Dir: cfg.Repository.Path})
	} else {
		objs, err = repository.OpenInMemory()
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open repository", err)
	}

	slog.Debug("opening database", "path", cfg.Database.Path, "repository", cfg.Repository.Path)
	st, err := store.Open(cfg.Database.Path,
		store.WithObjectStore(objs),
		store.WithCaching(store.CachingPolicy{Enabled: cfg.Caching.Enabled, Subtypes: cfg.Caching.Subtypes}),
		store.WithBatchSize(cfg.Query.BatchSize),
	)
	if err != nil {
		objs.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	user, err := st.EnsureUser(ctx, cfg.Profile.UserEmail)
	if err != nil {
		st.Close()
		objs.Close()
		return nil, WrapExitError(ExitCommandError, "failed to set up profile user", err)
	}

	return &profile{cfg: cfg, store: st, user: user}, nil
}

// close closes the store and the object repository it was given.
func (p *profile) close() {
	objs := p.store.Objects()
	if err := p.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
	if err := objs.Close(); err != nil {
		slog.Error("error closing repository", "error", err)
	}
}

// runner builds a process runner from the profile settings.
func (p *profile) runner(reg *process.Registry) *engine.Runner {
	pool := transport.NewPool(transport.WithSafeOpenInterval(p.cfg.Transport.SafeOpenInterval))
	return engine.New(p.store, reg,
		engine.WithMaxSteps(p.cfg.Runner.MaxSteps),
		engine.WithPool(pool),
		engine.WithUser(p.user.PK),
	)
}

// nodeError maps store lookup failures to exit codes.
func nodeError(f *OutputFormatter, ident string, err error) error {
	return f.Fail(ExitCommandError, fmt.Sprintf("node %s", ident), err)
}
