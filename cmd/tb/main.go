package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskboard/internal/app"
	"taskboard/internal/config"
	"taskboard/internal/db"
)

var rootCmd = &cobra.Command{
	Use:   "tb",
	Short: "Taskboard CLI",
	Long: `Taskboard is a terminal client for a task-management API.
- Session: tb login / tb register keep your token in the workspace (.taskboard); tb logout forgets it.
- Tasks: each task has a title, description, status (TODO, IN_PROGRESS, COMPLETED), priority (LOW, MEDIUM, HIGH) and an optional due date.
- Live view: tb watch follows the server's push channel; a change shows up only once the server announces it.
- Config: taskboard.yml in the workspace (tb config init), overridable with flags or TASKBOARD_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger(viper.GetString("log-level"))
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("api-url", "", "task API base URL (overrides config)")
	rootCmd.PersistentFlags().String("ws-url", "", "push channel URL (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level: debug, info, warn, error")
	for _, name := range []string{"workspace", "json", "api-url", "ws-url", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(registerCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(watchCmd())
}

func setupLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configShowCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default taskboard.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			apiURL := viper.GetString("api-url")
			if apiURL == "" {
				apiURL = config.DefaultAPIURL
			}
			content := config.GenerateDefault(apiURL)
			if _, err := config.FromYAML([]byte(content)); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(viper.GetString("workspace"), overrides())
			if err != nil {
				return err
			}
			return printFields(configFields(cfg))
		},
	}
}

func configFields(cfg *config.Config) []field {
	return []field{
		{"api_url", cfg.API.BaseURL},
		{"api_timeout", cfg.APITimeout().String()},
		{"channel_url", cfg.ChannelURL()},
		{"handshake_timeout", cfg.HandshakeTimeout().String()},
		{"validate_on_start", cfg.Session.ValidateOnStart},
	}
}

// --- helpers ---

func overrides() app.Overrides {
	return app.Overrides{APIURL: viper.GetString("api-url"), WSURL: viper.GetString("ws-url")}
}

func withEnv(ctx context.Context, fn func(context.Context, *app.Env) error) error {
	env, err := app.Open(ctx, viper.GetString("workspace"), overrides(), slog.Default())
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env)
}

// withSession is withEnv for commands that need a logged-in user.
func withSession(ctx context.Context, fn func(context.Context, *app.Env) error) error {
	return withEnv(ctx, func(ctx context.Context, env *app.Env) error {
		if err := env.RequireSession(); err != nil {
			return err
		}
		return fn(ctx, env)
	})
}
