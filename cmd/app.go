package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mariadb"
	"github.com/kozaktomas/face-attendance/internal/database/postgres"
	"github.com/kozaktomas/face-attendance/internal/database/sqlite"
	"github.com/kozaktomas/face-attendance/internal/enrollment"
	"github.com/kozaktomas/face-attendance/internal/faceapi"
	"github.com/kozaktomas/face-attendance/internal/logger"
	"github.com/kozaktomas/face-attendance/internal/matcher"
	"github.com/kozaktomas/face-attendance/internal/registry"
)

// app holds the services shared by every command.
type app struct {
	cfg        *config.Config
	log        *logger.Logger
	store      database.Store
	ledger     database.AttendanceLedger
	faces      *faceapi.Client
	matcher    *matcher.Matcher
	registry   *registry.Registry
	attendance *attendance.Service
	enroller   *enrollment.Pipeline

	closers []func() error
}

// newApp loads the configuration, opens the configured store and wires the services.
func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	a := &app{cfg: cfg, log: log}

	store, shortlister, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	a.ledger = store
	if cfg.Ledger.MariaDBDSN != "" {
		pool, err := mariadb.NewPool(cfg.Ledger.MariaDBDSN)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connecting to MariaDB ledger: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := pool.Migrate(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrating MariaDB ledger: %w", err)
		}
		a.ledger = mariadb.NewLedger(pool)
		log.Info("using external attendance ledger", "driver", "mariadb")
	}

	a.faces = faceapi.NewClient(cfg.Embedding.URL, cfg.Embedding.Dim)

	a.matcher = matcher.New(store, store, shortlister, matcher.Options{
		Threshold:          cfg.Match.Threshold,
		LowConfidenceFloor: cfg.Match.LowConfidenceFloor,
		MinEmbeddings:      cfg.Match.MinEmbeddings,
		ShortlistSize:      cfg.Match.ShortlistSize,
		GalleryTTL:         cfg.Match.GalleryTTL,
	}, log)

	a.registry = registry.New(store, log, a.matcher.Invalidate)
	a.attendance = attendance.NewService(store, a.ledger, log)

	a.enroller = a.pipeline(0)

	return a, nil
}

// pipeline builds an enrollment pipeline. A positive minQuality overrides the configured one.
func (a *app) pipeline(minQuality float64) *enrollment.Pipeline {
	opts := enrollment.DefaultOptions()
	opts.MinQuality = a.cfg.Enrollment.MinQuality
	if minQuality > 0 {
		opts.MinQuality = minQuality
	}
	opts.Weights = enrollment.Weights{Size: a.cfg.Enrollment.SizeWeight, Center: a.cfg.Enrollment.CenterWeight}
	opts.Workers = constants.EnrollWorkers
	return enrollment.NewPipeline(a.store, a.store, a.faces, opts, a.log)
}

// openStore opens the main database. The returned shortlister is nil unless
// shortlisting is enabled.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (database.Store, matcher.Shortlister, error) {
	var (
		store       database.Store
		shortlister matcher.Shortlister
	)

	switch cfg.Database.Driver {
	case "postgres":
		pool, err := postgres.Initialize(ctx, &cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		pgStore := postgres.NewStore(pool, cfg.Embedding.Dim)
		store = pgStore
		if cfg.Match.ShortlistSize > 0 && cfg.Database.GalleryIndexPath == "" {
			shortlister = matcher.ShortlistFunc(pgStore.NearestIdentities)
		}
	default:
		s, err := sqlite.Open(cfg.Database.Path, cfg.Embedding.Dim)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open SQLite database: %w", err)
		}
		store = s
	}

	if cfg.Match.ShortlistSize > 0 && shortlister == nil {
		shortlister = matcher.NewHNSWShortlister(cfg.Database.GalleryIndexPath, log)
	}
	log.Debug("store opened", "driver", cfg.Database.Driver, "shortlist", cfg.Match.ShortlistSize)
	return store, shortlister, nil
}

// Close releases the store and ledger connections.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("closing resource failed", "error", err)
		}
	}
	a.closers = nil
	a.log.Sync()
}

// resolveIdentity accepts a numeric ID or an external reference.
func (a *app) resolveIdentity(ctx context.Context, ref string) (*database.Identity, error) {
	identity, err := a.registry.Resolve(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("resolving identity %q: %w", ref, err)
	}
	return identity, nil
}

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}
