package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/playperu/turtlesoup/internal/database"
	"github.com/playperu/turtlesoup/internal/images"
	"github.com/playperu/turtlesoup/internal/migrations"
	"github.com/playperu/turtlesoup/internal/retry"
	"github.com/playperu/turtlesoup/internal/store"
	"github.com/playperu/turtlesoup/internal/sweeper"
)

// ExpiredReport lists what the next sweep would delete.
type ExpiredReport struct {
	Rooms   int      `json:"rooms"`
	Users   int      `json:"users"`
	RoomIDs []string `json:"roomIds"`
}

// StatusReport describes the database soupctl is pointed at.
type StatusReport struct {
	DB            string `json:"db"`
	SchemaVersion int64  `json:"schemaVersion"`
}

func openDB(ctx context.Context, path string) (*sql.DB, error) {
	if path != database.Memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database dir: %w", err)
		}
	}
	db, err := database.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("connecting to sqlite: %w", err)
	}
	return db, nil
}

// withSweeper opens the database and image store, brings the schema up to
// date and hands fn a sweeper configured from cfg.
func withSweeper(ctx context.Context, cfg *Config, logger *slog.Logger, fn func(*sweeper.Sweeper) error) error {
	db, err := openDB(ctx, cfg.dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	imgs, err := images.NewDiskStore(cfg.imageDir)
	if err != nil {
		return fmt.Errorf("opening image store: %w", err)
	}

	sw := sweeper.New(store.NewSQLiteStore(db), imgs, logger,
		sweeper.WithMaxAge(cfg.maxAge),
		sweeper.WithItemDelay(cfg.itemDelay),
		sweeper.WithRetry(retry.Default(logger)),
	)
	return fn(sw)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSweepCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired rooms and anonymous users once.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := cfg.logger(cmd.ErrOrStderr())
			return withSweeper(cmd.Context(), cfg, logger, func(sw *sweeper.Sweeper) error {
				res, err := sw.Run(cmd.Context())
				if err != nil {
					return fmt.Errorf("sweeping: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func newExpiredCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "expired",
		Short: "List what the next sweep would delete.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := cfg.logger(cmd.ErrOrStderr())
			return withSweeper(cmd.Context(), cfg, logger, func(sw *sweeper.Sweeper) error {
				rooms, err := sw.FindExpiredRooms(cmd.Context())
				if err != nil {
					return fmt.Errorf("finding expired rooms: %w", err)
				}
				users, err := sw.FindExpiredUsers(cmd.Context())
				if err != nil {
					return fmt.Errorf("finding expired users: %w", err)
				}

				report := ExpiredReport{Rooms: len(rooms), Users: len(users), RoomIDs: []string{}}
				for _, r := range rooms {
					report.RoomIDs = append(report.RoomIDs, r.RoomID)
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func newStatusCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the schema version of the database.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB(cmd.Context(), cfg.dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			version, err := migrations.Version(db)
			if err != nil {
				return fmt.Errorf("reading schema version: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), StatusReport{DB: cfg.dbPath, SchemaVersion: version})
		},
	}
}

func newHashPasswordCmd() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for ADMIN_PASSWORD_HASH.",
		Long:  "Print a bcrypt hash for ADMIN_PASSWORD_HASH. The password is read from stdin when not given as an argument.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("reading password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return errors.New("password must not be empty")
			}

			hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
			if err != nil {
				return fmt.Errorf("hashing password: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}

	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost factor")

	return cmd
}
