package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/config"
	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/db"
	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/logging"
	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/runner"
	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/worker"
)

var (
	cfgFile   string
	verbose   bool
	version   = "dev"
	logCloser io.Closer
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "syncbot",
		Short:   "Two-way Notion and Google Calendar sync bot",
		Long:    `Keeps each connected user's Notion database and Google calendars in sync, one user at a time across a pool of worker loops.`,
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(logging.NewHandler(os.Stderr, "text", level)))
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logCloser != nil {
				logCloser.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		daemonCmd(),
		syncCmd(),
		statusCmd(),
		migrateCmd(),
		initCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config and switches logging to its settings
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Syncbot.Version == "" || cfg.Syncbot.Version == "dev" {
		cfg.Syncbot.Version = version
	}
	logCloser = logging.Setup(cfg.Log, verbose)
	return cfg, nil
}

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Start the worker loops",
		Long:  `Starts the runner: every configured loop claims eligible users and syncs them until SIGINT/SIGTERM or runner.stop is set in the config file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			database, err := db.New(ctx, &cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer database.Close()

			clients := worker.NewAPIClients(cfg)
			r := runner.New(database, func(workerID string) runner.Syncer {
				return worker.New(database, clients, cfg, workerID)
			}, runner.NewHTTPReporter(cfg.Report, cfg.Syncbot.Prefix), cfg)

			watcher, err := config.Watch(cfgFile, func(next *config.Config) {
				r.SetStop(next.Runner.Stop)
			})
			if err != nil {
				slog.Warn("config hot reload disabled", "error", err)
			} else {
				defer watcher.Stop()
			}

			done := make(chan error, 1)
			go func() {
				done <- r.Run(ctx)
			}()

			// Handle graceful shutdown
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			slog.Info("daemon started", "prefix", cfg.Syncbot.Prefix, "version", cfg.Syncbot.Version)
			fmt.Println("Syncing users. Press Ctrl+C to stop.")

			for {
				select {
				case <-sigCh:
					slog.Info("shutting down, waiting for running syncs")
					r.SetStop(true)
					cancel()

				case err := <-done:
					if err != nil {
						return fmt.Errorf("runner failed: %w", err)
					}
					return nil
				}
			}
		},
	}
}

func syncCmd() *cobra.Command {
	var (
		userID int64
		all    bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync one user or every connected user, then exit",
		Long:  `Runs the worker once for --user, or sequentially for every connected user with --all.`,
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id to sync")
	cmd.Flags().BoolVar(&all, "all", false, "sync every connected user")
	cmd.MarkFlagsMutuallyExclusive("user", "all")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if userID == 0 && !all {
			return fmt.Errorf("either --user or --all is required")
		}
		ctx := context.Background()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		database, err := db.New(ctx, &cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()

		w := worker.New(database, worker.NewAPIClients(cfg), cfg, cfg.Syncbot.Prefix+"_cli")

		if !all {
			res, err := w.Run(ctx, userID)
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}
			fmt.Println(res.SimpleResponse)
			if res.Fail {
				return fmt.Errorf("sync failed: %s", res.FailReason)
			}
			return nil
		}

		ids, err := database.ListConnectedUserIDs(ctx)
		if err != nil {
			return fmt.Errorf("failed to list users: %w", err)
		}

		bar := progressbar.NewOptions(len(ids),
			progressbar.OptionSetDescription("Syncing users"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
		)

		failed := 0
		for _, id := range ids {
			res, err := w.Run(ctx, id)
			switch {
			case errors.Is(err, worker.ErrUserNotFound):
				slog.Warn("user disappeared before sync", "user_id", id)
			case err != nil:
				slog.Error("sync failed", "user_id", id, "error", err)
				failed++
			case res.Fail:
				slog.Error("sync failed", "user_id", id, "reason", res.FailReason)
				failed++
			}
			bar.Add(1)
		}
		fmt.Println()

		fmt.Printf("Synced %d users, %d failed.\n", len(ids)-failed, failed)
		return nil
	}

	return cmd
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	labelStyle = lipgloss.NewStyle().Width(18)
)

func statusLine(label string, value any) {
	fmt.Printf("  %s%v\n", labelStyle.Render(label+":"), value)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show database connection and user counts",
		Long:  `Shows whether the database is reachable and how many users are connected, working and linked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			fmt.Println(titleStyle.Render("=== Syncbot Status ==="))

			database, err := db.New(ctx, &cfg.Database)
			if err != nil {
				statusLine("Database", badStyle.Render("Disconnected"))
				statusLine("Error", err)
				return nil
			}
			defer database.Close()

			status, err := database.GetStatus(ctx)
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}

			statusLine("Database", okStyle.Render("Connected"))
			statusLine("Host", cfg.Database.Host)
			statusLine("Database name", cfg.Database.Database)
			statusLine("Schema", cfg.Database.Schema)
			fmt.Println()
			statusLine("Prefix", cfg.Syncbot.Prefix)
			statusLine("Users", status.TotalUsers)
			statusLine("Connected", status.ConnectedUsers)
			statusLine("Working", status.WorkingUsers)
			statusLine("Event links", status.TotalLinks)
			if status.LastCalendarRun != nil {
				statusLine("Last sync", status.LastCalendarRun.Format(time.RFC3339))
			}

			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	var showStatus bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Runs all pending embedded database migrations.`,
	}
	cmd.Flags().BoolVar(&showStatus, "status", false, "print migration status instead of migrating")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		database, err := db.New(ctx, &cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()

		if showStatus {
			return database.MigrationStatus(ctx)
		}
		if err := database.RunMigrations(ctx); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		fmt.Println("Migrations completed successfully.")
		return nil
	}

	return cmd
}

const configHeader = `# syncbot configuration
# Secrets may reference environment variables, e.g. password: "${DB_PASSWORD}".
# Set runner.stop to true while the daemon runs to drain its loops.

`

func initCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long:  `Writes a config file with every default filled in, to --config or the default config location.`,
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		configPath := cfgFile
		if configPath == "" {
			configPath = config.DefaultPath()
		}
		if _, err := os.Stat(configPath); err == nil && !force {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
		}

		cfg := config.DefaultConfig()
		cfg.Database.Host = "localhost"
		cfg.Database.User = "syncbot"
		cfg.Database.Password = "${DB_PASSWORD}"
		cfg.Database.Database = "calendar2notion"
		cfg.Google.ClientSecret = "${GOOGLE_CLIENT_SECRET}"
		cfg.Report.ControlSecret = "${SYNCBOT_CONTROL_SECRET}"

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to render config: %w", err)
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := os.WriteFile(configPath, append([]byte(configHeader), data...), 0600); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}

		fmt.Printf("Config file written to: %s\n", configPath)
		fmt.Println("\nTo test the connection, run: syncbot status")
		fmt.Println("To run migrations, run: syncbot migrate")
		fmt.Println("To start syncing, run: syncbot daemon")
		return nil
	}

	return cmd
}
