// cmd/svnlite/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"svnlite/internal/config"
	"svnlite/internal/delta"
	"svnlite/internal/ra"
	"svnlite/shared/utils"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	logger     = zap.NewNop()
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "svnlite",
	Short: "svnlite works with versioned tree repositories",
	Long: `svnlite creates and reads versioned tree repositories. Commits are
driven through the tree-delta editor and exports through the reporter, the
same way the HTTP server does it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !verbose {
			return nil
		}
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
}

// repoURL accepts a URL or a local path, which becomes a file:// URL.
func repoURL(arg string) (string, error) {
	if strings.Contains(arg, "://") {
		return arg, nil
	}
	abs, err := filepath.Abs(arg)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", arg, err)
	}
	return "file://" + filepath.ToSlash(abs), nil
}

func newClient(ctx context.Context) (*ra.Client, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}
	c := ra.NewClient(cfg, logger)
	if err := c.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing client: %w", err)
	}
	return c, nil
}

// withSession opens a session on arg for the duration of fn.
func withSession(ctx context.Context, arg string, fn func(*ra.Session) error) error {
	url, err := repoURL(arg)
	if err != nil {
		return err
	}
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	s, err := c.Open(ctx, url)
	if err != nil {
		return fmt.Errorf("opening %s: %w", url, err)
	}
	defer s.Close()
	stop := context.AfterFunc(ctx, s.Cancel)
	defer stop()
	return fn(s)
}

func revisionFlag(cmd *cobra.Command) (delta.Revnum, error) {
	r, _ := cmd.Flags().GetString("revision")
	return utils.ParseRevision(r)
}

func username() string {
	if u := os.Getenv("SVNLITE_USER"); u != "" {
		return u
	}
	return os.Getenv("USER")
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "configuration file (JSON or YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "V", false, "log protocol activity")
	rootCmd.PersistentFlags().BoolVar(&color.NoColor, "no-color", color.NoColor, "disable coloured output")

	rootCmd.AddCommand(
		createCmd(),
		infoCmd(),
		lsCmd(),
		catCmd(),
		logCmd(),
		commitCmd(),
		importCmd(),
		exportCmd(),
		diffCmd(),
		lockCmd(),
		unlockCmd(),
		locksCmd(),
		mergeinfoCmd(),
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}
