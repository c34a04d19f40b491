// Command proxctl is the operator CLI for the proximity alert service.
//
// Usage:
//
//	proxctl migrate up
//	proxctl seed contacts.json
//	proxctl users add alice --name "Alice"
//	proxctl contacts link alice bob
//	proxctl meetings alice --limit 10
//	proxctl token alice --ttl 24h
//	proxctl purge-user alice
//	proxctl prune
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/albapepper/proximity-alerts/internal/auth"
	"github.com/albapepper/proximity-alerts/internal/config"
	"github.com/albapepper/proximity-alerts/internal/contacts"
	"github.com/albapepper/proximity-alerts/internal/db"
	"github.com/albapepper/proximity-alerts/internal/emergency"
	"github.com/albapepper/proximity-alerts/internal/ledger"
	"github.com/albapepper/proximity-alerts/internal/maintenance"
	"github.com/albapepper/proximity-alerts/internal/proximity"
	"github.com/albapepper/proximity-alerts/internal/seed"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:          "proxctl",
		Short:        "Proximity alert operator CLI",
		SilenceUsage: true,
	}

	root.AddCommand(migrateCmd())
	root.AddCommand(seedCmd())
	root.AddCommand(usersCmd())
	root.AddCommand(contactsCmd())
	root.AddCommand(meetingsCmd())
	root.AddCommand(tokenCmd())
	root.AddCommand(purgeUserCmd())
	root.AddCommand(pruneCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// schema
// --------------------------------------------------------------------------

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Apply or inspect schema migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, _ *config.Config, pool *db.Pool) error {
				start := time.Now()
				if err := db.Migrate(ctx, pool, args[0]); err != nil {
					return err
				}
				logger.Info("Migration finished", "direction", args[0], "duration", time.Since(start).Round(time.Millisecond))
				return nil
			})
		},
	}
}

// --------------------------------------------------------------------------
// seeding
// --------------------------------------------------------------------------

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file>",
		Short: "Load users and contact links from a JSON fixture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fixture, err := seed.LoadFile(args[0])
			if err != nil {
				return err
			}
			return withDB(func(ctx context.Context, _ *config.Config, pool *db.Pool) error {
				start := time.Now()
				result := seed.Apply(ctx, contacts.NewPGStore(pool.Pool), fixture, logger)
				logger.Info("Seed finished", "duration", time.Since(start).Round(time.Millisecond), "summary", result.Summary())
				for _, e := range result.Errors {
					logger.Error("seed error", "error", e)
				}
				return nil
			})
		},
	}
}

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage user records",
	}

	var name string
	add := &cobra.Command{
		Use:   "add <user-id>",
		Short: "Create or update a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, _ *config.Config, pool *db.Pool) error {
				if err := contacts.NewPGStore(pool.Pool).PutUser(ctx, contacts.User{ID: args[0], DisplayName: name}); err != nil {
					return err
				}
				logger.Info("User saved", "user_id", args[0])
				return nil
			})
		},
	}
	add.Flags().StringVar(&name, "name", "", "Display name")

	ghost := &cobra.Command{
		Use:       "ghost <user-id> [on|off]",
		Short:     "Toggle ghost mode",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[1] != "on" && args[1] != "off" {
				return fmt.Errorf("ghost mode must be on or off, got %q", args[1])
			}
			return withDB(func(ctx context.Context, _ *config.Config, pool *db.Pool) error {
				return contacts.NewPGStore(pool.Pool).SetGhostMode(ctx, args[0], args[1] == "on")
			})
		},
	}

	cmd.AddCommand(add, ghost)
	return cmd
}

func contactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Manage contact edges",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "link <user-a> <user-b>",
		Short: "Make two users mutual contacts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == args[1] {
				return fmt.Errorf("a user cannot be their own contact")
			}
			return withDB(func(ctx context.Context, _ *config.Config, pool *db.Pool) error {
				if err := contacts.NewPGStore(pool.Pool).Befriend(ctx, args[0], args[1]); err != nil {
					return err
				}
				logger.Info("Contacts linked", "a", args[0], "b", args[1])
				return nil
			})
		},
	})
	return cmd
}

// --------------------------------------------------------------------------
// inspection
// --------------------------------------------------------------------------

func meetingsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "meetings <user-id>",
		Short: "Print a user's meeting history as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, _ *config.Config, pool *db.Pool) error {
				ms, err := proximity.NewPGMeetingStore(pool.Pool).MeetingsOf(ctx, args[0], limit)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(ms)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum meetings to print (0 for all)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint an access token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			tok, err := auth.NewJWT(cfg.JWTSecret).Sign(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

// --------------------------------------------------------------------------
// data lifecycle
// --------------------------------------------------------------------------

func purgeUserCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-user <user-id>",
		Short: "Delete a user's locations and contact edges",
		Long: "Removes the user's latest location, location history and every contact edge, " +
			"and flags the account deleted. Meeting history and emergency alerts are kept.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				if err := ledger.New(ledger.NewPGStore(pool.Pool), cfg.RecentWindow).PurgeUser(ctx, args[0]); err != nil {
					return err
				}
				if err := contacts.NewPGStore(pool.Pool).PurgeUser(ctx, args[0]); err != nil {
					return fmt.Errorf("purge contacts: %w", err)
				}
				logger.Info("User purged", "user_id", args[0])
				return nil
			})
		},
	}
}

func pruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Run every retention task once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				p := maintenance.Pruners{
					History: ledger.NewHistoryPruner(pool.Pool),
					Alerts:  emergency.NewPGStore(pool.Pool),
				}
				if cfg.PairStateBackend == config.BackendPostgres {
					p.PairState = proximity.NewPGPairStore(pool.Pool)
				}
				counts, err := maintenance.RunOnce(ctx, maintenance.DefaultConfig().Tasks(p), time.Now(), logger)
				logger.Info("Prune finished", "pruned", counts)
				return err
			})
		},
	}
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

// withDB handles config loading, DB connection, and context cancellation.
func withDB(fn func(ctx context.Context, cfg *config.Config, pool *db.Pool) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.StoreBackend != config.BackendPostgres {
		return fmt.Errorf("proxctl needs STORE_BACKEND=%s", config.BackendPostgres)
	}

	pool, err := db.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	return fn(ctx, cfg, pool)
}
