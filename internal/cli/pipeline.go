package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dshills/abigate/internal/abitool"
	"github.com/dshills/abigate/internal/artifact"
	"github.com/dshills/abigate/internal/cache"
	"github.com/dshills/abigate/internal/config"
	"github.com/dshills/abigate/internal/extract"
	"github.com/dshills/abigate/internal/logging"
	"github.com/dshills/abigate/internal/obs"
	"github.com/dshills/abigate/internal/review"
	"github.com/dshills/abigate/internal/rpmhdr"
	"github.com/dshills/abigate/internal/store"
	"github.com/dshills/abigate/internal/workdir"
)

// errNoDatabase is reported when a command needs the store but none is
// configured.
var errNoDatabase = errors.New("no database configured (set databaseURL or ABIGATE_DATABASE_URL)")

// pipeline holds everything a check needs. close releases the work
// directory lock.
type pipeline struct {
	cfg       config.Config
	client    *obs.Client
	dir       *workdir.Dir
	reportDir string
	checker   *review.Checker
	logger    *slog.Logger
}

func newPipeline(cfg config.Config, logger *slog.Logger) (*pipeline, error) {
	client, err := obs.NewClient(cfg.APIURL, cfg.User, cfg.Password, cfg.Retries)
	if err != nil {
		return nil, err
	}
	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	verifier, err := rpmhdr.LoadVerifier(cfg.Keyring)
	if err != nil {
		return nil, err
	}
	c, err := cache.New(cfg.Cache.Dir)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	root, err := workRoot(cfg)
	if err != nil {
		return nil, err
	}
	dir, err := workdir.Acquire(root)
	if err != nil {
		return nil, err
	}
	p := &pipeline{cfg: cfg, client: client, dir: dir, logger: logger}

	unpacked, err := dir.Scratch("unpacked")
	if err != nil {
		p.close()
		return nil, err
	}
	dumps, err := dir.Scratch("dumps")
	if err != nil {
		p.close()
		return nil, err
	}
	p.reportDir, err = dir.Scratch("reports")
	if err != nil {
		p.close()
		return nil, err
	}

	ex := extract.New(client, c, unpacked, verifier, logger)
	tool := abitool.New(abitool.ExecRunner{}, cfg.Tools.Dumper, cfg.Tools.Comparer, dumps, p.reportDir, logger)
	p.checker = review.NewChecker(client, ex, tool, review.Options{
		Policy:               policy,
		MaintenanceAttribute: cfg.MaintenanceAttribute,
		AcceptIncompatible:   cfg.AcceptIncompatible,
		Logger:               logger,
	})
	return p, nil
}

func (p *pipeline) close() {
	if err := p.dir.Release(); err != nil {
		p.logger.Warn("releasing work directory", "error", err)
	}
}

func workRoot(cfg config.Config) (string, error) {
	if cfg.WorkDir != "" {
		return cfg.WorkDir, nil
	}
	state, err := config.StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(state, "work"), nil
}

func reportRoot(cfg config.Config) (string, error) {
	if cfg.Reports.Dir != "" {
		return cfg.Reports.Dir, nil
	}
	state, err := config.StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(state, "reports"), nil
}

// newArtifacts returns the S3 store when an endpoint is configured and the
// report directory otherwise.
func newArtifacts(cfg config.Config) (artifact.Store, error) {
	if cfg.Reports.S3Endpoint != "" {
		return artifact.NewS3Store(artifact.S3Config{
			Endpoint:  cfg.Reports.S3Endpoint,
			Region:    cfg.Reports.S3Region,
			AccessKey: cfg.Reports.S3AccessKey,
			SecretKey: cfg.Reports.S3SecretKey,
			Bucket:    cfg.Reports.S3Bucket,
			UseSSL:    cfg.Reports.S3UseSSL,
		})
	}
	dir, err := reportRoot(cfg)
	if err != nil {
		return nil, err
	}
	return artifact.NewDirStore(dir), nil
}

func openStore(ctx context.Context, cfg config.Config) (*store.Store, error) {
	if cfg.Database.URL == "" {
		return nil, errNoDatabase
	}
	return store.Open(ctx, cfg.Database.URL)
}

// newLogger builds the stderr logger. A non-nil sink also receives every
// record at info level and above.
func newLogger(cfg config.Config, sink logging.Sink) *slog.Logger {
	h := logging.NewHandler(os.Stderr, cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))
	if sink != nil {
		h = logging.Mirror(h, slog.LevelInfo, sink)
	}
	return slog.New(h)
}

// failure reports err on stderr and sets the matching exit code.
func failure(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	exitCode = failureCode(err)
}

func failureCode(err error) int {
	switch {
	case obs.IsAuthError(err):
		return ExitAuthError
	case errors.Is(err, errNoDatabase):
		return ExitUsageError
	}
	return ExitRuntimeError
}
