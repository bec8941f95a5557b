package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tendant/matbox/pkg/matbox"
	"github.com/tendant/matbox/pkg/matbox/config"
)

var (
	version = "dev"
	commit  = "none"
)

const envPrefix = "MATBOX_"

func main() {
	_ = godotenv.Load()

	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalOptions are shared by every subcommand
type globalOptions struct {
	owner   string
	verbose bool
}

// NewRootCommand builds the matbox command tree
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "matbox",
		Short: "Versioned materials repository",
		Long: `matbox stores versioned materials per owner.

The service is configured from MATBOX_* environment variables
(MATBOX_DATABASE_URL, MATBOX_STORAGE_URL, ...), optionally loaded from a .env file.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.owner, "owner", "o", os.Getenv(envPrefix+"OWNER"), "owner of the materials")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(
		newMigrateCommand(opts),
		newPutCommand(opts),
		newGetCommand(opts),
		newListCommand(opts),
		newInfoCommand(opts),
		newFindCommand(opts),
		newCategoryCommand(opts),
		newVerifyCommand(opts),
	)
	return rootCmd
}

// openService loads configuration from the environment and builds a service
func openService(ctx context.Context, cmd *cobra.Command, opts *globalOptions) (*config.Runtime, error) {
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(config.WithEnv(envPrefix), config.WithMetrics(false, nil))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg.BuildService(ctx, logger)
}

func requireOwner(opts *globalOptions) error {
	if opts.owner == "" {
		return fmt.Errorf("owner is required (--owner or %sOWNER)", envPrefix)
	}
	return nil
}

// withService runs fn against a freshly built service and releases it afterwards
func withService(cmd *cobra.Command, opts *globalOptions, fn func(ctx context.Context, svc matbox.Service) error) error {
	if err := requireOwner(opts); err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := openService(ctx, cmd, opts)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt.Service)
}

func copyDownload(w io.Writer, d *matbox.Download) error {
	defer d.Body.Close()
	_, err := io.Copy(w, d.Body)
	return err
}
