package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/plannerlab/draftsync/internal/api"
	"github.com/plannerlab/draftsync/internal/cache"
	"github.com/plannerlab/draftsync/internal/config"
	"github.com/plannerlab/draftsync/internal/database"
	"github.com/plannerlab/draftsync/internal/drafts"
	"github.com/plannerlab/draftsync/internal/editor"
	"github.com/plannerlab/draftsync/internal/logging"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "draftsync",
		Short: "Lesson draft editing and synchronization client",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newCreateCommand())
	rootCmd.AddCommand(newEditCommand())
	rootCmd.AddCommand(newDeleteCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("api-base-url", defaults.GetString("api.base_url"), "Remote drafts API base URL")
	cmd.PersistentFlags().String("api-token", "", "Bearer token for the remote API (overrides env)")
	cmd.PersistentFlags().String("cache-path", defaults.GetString("cache.path"), "Local autosave database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Int("debounce-ms", defaults.GetInt("autosave.debounce_ms"), "Autosave debounce window in milliseconds")
	cmd.PersistentFlags().Int("flush-interval-ms", defaults.GetInt("autosave.flush_interval_ms"), "Autosave periodic flush interval in milliseconds")
	cmd.PersistentFlags().Bool("autosave", defaults.GetBool("autosave.enabled"), "Enable autosave while editing")

	bindFlag(cmd, "api.base_url", "api-base-url")
	bindFlag(cmd, "api.token", "api-token")
	bindFlag(cmd, "cache.path", "cache-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "autosave.debounce_ms", "debounce-ms")
	bindFlag(cmd, "autosave.flush_interval_ms", "flush-interval-ms")
	bindFlag(cmd, "autosave.enabled", "autosave")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// app bundles the wired components shared by every subcommand.
type app struct {
	cfg     config.AppConfig
	logger  *zap.Logger
	cache   *cache.Cache
	manager *drafts.Manager
	close   func()
}

func newApp() (*app, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	// The cache is advisory: a broken local database degrades to an
	// in-session no-op instead of blocking editing.
	var backend cache.Backend
	closeDB := func() {}
	db, err := database.OpenSQLite(appConfig.CachePath, logger)
	if err != nil {
		logger.Warn("autosave database unavailable, continuing without durable cache",
			zap.String("path", appConfig.CachePath),
			zap.Error(err))
	} else {
		backend, err = cache.NewSQLiteBackend(db)
		if err != nil {
			return nil, err
		}
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			closeDB = func() { sqlDB.Close() } //nolint:errcheck
		}
	}

	client, err := api.NewClient(api.ClientConfig{
		BaseURL:     appConfig.APIBaseURL,
		BearerToken: appConfig.APIToken,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	remote, err := drafts.NewRemoteStore(client)
	if err != nil {
		return nil, err
	}

	manager, err := drafts.NewManager(drafts.ManagerConfig{
		Remote: remote,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:     appConfig,
		logger:  logger,
		cache:   cache.New(cache.Config{Backend: backend, Logger: logger}),
		manager: manager,
		close: func() {
			closeDB()
			logger.Sync() //nolint:errcheck
		},
	}, nil
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List drafts known to the remote API",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			defer application.close()

			if err := application.manager.Refresh(cmd.Context()); err != nil {
				return err
			}
			for _, draft := range application.manager.Drafts() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n",
					draft.ID, draft.UpdatedAt.Format("2006-01-02 15:04"), draft.Title)
			}
			return nil
		},
	}
}

func newCreateCommand() *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft from stdin content",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			defer application.close()

			content, err := readAll(cmd)
			if err != nil {
				return err
			}
			keys := editor.NewUUIDKeyProvider()
			sessionRef, err := keys.NewKey()
			if err != nil {
				return err
			}
			created, err := application.manager.Create(cmd.Context(), sessionRef, title, content, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", created.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "Untitled", "Draft title")
	return cmd
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			defer application.close()

			if err := application.manager.Refresh(cmd.Context()); err != nil {
				return err
			}
			return application.manager.Delete(cmd.Context(), args[0])
		},
	}
}

func newEditCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit a draft interactively with autosave",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			defer application.close()

			return runEditSession(cmd, application, args[0])
		},
	}
}

func runEditSession(cmd *cobra.Command, application *app, draftID string) error {
	ctx := cmd.Context()
	if err := application.manager.Refresh(ctx); err != nil {
		return err
	}
	draft, found := application.manager.Get(draftID)
	if !found {
		return fmt.Errorf("draft %s not found", draftID)
	}

	controller, err := editor.NewController(editor.ControllerConfig{
		Draft:           draft,
		Manager:         application.manager,
		Cache:           application.cache,
		Decider:         &stdinDecider{in: cmd.InOrStdin(), out: cmd.OutOrStdout()},
		Debounce:        application.cfg.Debounce,
		FlushInterval:   application.cfg.FlushInterval,
		AutosaveEnabled: application.cfg.AutosaveEnabled,
		Logger:          application.logger,
	})
	if err != nil {
		return err
	}
	if err := controller.Open(ctx); err != nil {
		return err
	}
	defer controller.Close(context.Background())

	fmt.Fprintf(cmd.OutOrStdout(), "editing %s (%q). Lines replace content; :w saves, :q quits.\n",
		draft.ID, draft.Title)

	lines := strings.Split(controller.Content(), "\n")
	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch strings.TrimSpace(line) {
		case ":q":
			return nil
		case ":w":
			if err := controller.Save(ctx); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "save failed: %v\n", err)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "status: %s\n", controller.Status())
			}
		default:
			lines = append(lines, line)
			controller.SetContent(strings.Join(lines, "\n"))
		}
	}
	return scanner.Err()
}

// stdinDecider asks the user whether to recover cached content before the
// editor becomes interactive.
type stdinDecider struct {
	in  io.Reader
	out io.Writer
}

func (d *stdinDecider) AcceptRecovered(prompt editor.RecoveryPrompt) bool {
	fmt.Fprintf(d.out, "Unsaved content from %s found for draft %s. Recover it? [y/N] ",
		cache.FormatTimestamp(prompt.SavedAt, time.Now()), prompt.DraftID)
	reader := bufio.NewReader(d.in)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func readAll(cmd *cobra.Command) (string, error) {
	var builder strings.Builder
	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if builder.Len() > 0 {
			builder.WriteByte('\n')
		}
		builder.WriteString(scanner.Text())
	}
	return builder.String(), scanner.Err()
}
