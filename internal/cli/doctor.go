package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/dshills/abigate/internal/config"
	"github.com/dshills/abigate/internal/obs"
	"github.com/dshills/abigate/internal/redact"
	"github.com/dshills/abigate/internal/rpmhdr"
	"github.com/dshills/abigate/internal/workdir"
	"github.com/spf13/cobra"
)

const doctorTimeout = 30 * time.Second

// check is one doctor probe. A nil error passes.
type check struct {
	name string
	run  func(ctx context.Context, cfg config.Config) (string, error)
}

var doctorChecks = []check{
	{"policy", func(_ context.Context, cfg config.Config) (string, error) {
		if _, err := config.LoadPolicy(cfg.PolicyFile); err != nil {
			return "", err
		}
		if cfg.PolicyFile == "" {
			return "built-in defaults", nil
		}
		return cfg.PolicyFile, nil
	}},
	{"keyring", func(_ context.Context, cfg config.Config) (string, error) {
		v, err := rpmhdr.LoadVerifier(cfg.Keyring)
		if err != nil {
			return "", err
		}
		if v == nil {
			return "signature checks disabled", nil
		}
		return cfg.Keyring, nil
	}},
	{"build service", func(ctx context.Context, cfg config.Config) (string, error) {
		client, err := obs.NewClient(cfg.APIURL, cfg.User, cfg.Password, 0)
		if err != nil {
			return "", err
		}
		rev, err := client.About(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s (revision %s)", redact.URL(client.APIURL()), rev), nil
	}},
	{"dumper", func(_ context.Context, cfg config.Config) (string, error) {
		return exec.LookPath(cfg.Tools.Dumper)
	}},
	{"comparer", func(_ context.Context, cfg config.Config) (string, error) {
		return exec.LookPath(cfg.Tools.Comparer)
	}},
	{"work directory", func(_ context.Context, cfg config.Config) (string, error) {
		root, err := workRoot(cfg)
		if err != nil {
			return "", err
		}
		d, err := workdir.Acquire(root)
		if err != nil {
			return "", err
		}
		return root, d.Release()
	}},
	{"database", func(ctx context.Context, cfg config.Config) (string, error) {
		if cfg.Database.URL == "" {
			return "not configured, check request is unavailable", nil
		}
		st, err := openStore(ctx, cfg)
		if err != nil {
			return "", err
		}
		defer st.Close()
		return redact.URL(cfg.Database.URL), st.Ping(ctx)
	}},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, tools and service access",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(nil)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		exitCode = runDoctor(ctx, os.Stdout, cfg, doctorChecks)
		return nil
	},
}

// runDoctor runs checks in order and returns the exit code. An auth
// failure wins over other failures.
func runDoctor(ctx context.Context, w io.Writer, cfg config.Config, checks []check) int {
	code := ExitSuccess
	for _, c := range checks {
		cctx, cancel := context.WithTimeout(ctx, doctorTimeout)
		detail, err := c.run(cctx, cfg)
		cancel()
		if err != nil {
			fmt.Fprintf(w, "[!!] %-15s %v\n", c.name, err)
			if obs.IsAuthError(err) {
				code = ExitAuthError
			} else if code == ExitSuccess {
				code = ExitRuntimeError
			}
			continue
		}
		fmt.Fprintf(w, "[ok] %-15s %s\n", c.name, detail)
	}
	return code
}
