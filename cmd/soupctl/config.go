package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/playperu/turtlesoup/internal/sweeper"
)

type Config struct {
	dbPath    string
	imageDir  string
	maxAge    time.Duration
	itemDelay time.Duration
	verbose   bool
}

func (c *Config) validate() error {
	if c.dbPath == "" {
		return errors.New("--db must not be empty")
	}
	if c.maxAge <= 0 {
		return fmt.Errorf("invalid max age (must be positive): %s", c.maxAge)
	}
	if c.itemDelay < 0 {
		return fmt.Errorf("invalid item delay (must not be negative): %s", c.itemDelay)
	}
	return nil
}

func (c *Config) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("SOUP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:     "soupctl",
		Short:   "Maintenance tasks for a Turtle Soup database.",
		Args:    cobra.NoArgs,
		Version: releaseVersion,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "hash-password" {
				return nil
			}
			return cfg.validate()
		},
	}

	fs := cmd.PersistentFlags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVar(&cfg.dbPath, "db", "data/turtlesoup.db", "path to the sqlite database (env: SOUP_DB)")
	fs.StringVar(&cfg.imageDir, "image-dir", "data/images", "directory holding uploaded images (env: SOUP_IMAGE_DIR)")
	fs.DurationVar(&cfg.maxAge, "max-age", sweeper.DefaultMaxAge, "idle time before a room or user expires (env: SOUP_MAX_AGE)")
	fs.DurationVar(&cfg.itemDelay, "item-delay", sweeper.DefaultItemDelay, "pause between deletions during a sweep (env: SOUP_ITEM_DELAY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "log progress to stderr (env: SOUP_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.AddCommand(
		newSweepCmd(cfg),
		newExpiredCmd(cfg),
		newStatusCmd(cfg),
		newHashPasswordCmd(),
	)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("soupctl v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
