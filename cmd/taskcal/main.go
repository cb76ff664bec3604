package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"taskcal/internal/api"
	"taskcal/internal/auth"
	"taskcal/internal/config"
	appLog "taskcal/internal/log"
)

const version = "0.1.0"

// globals holds the persistent flags and the config they resolve to.
type globals struct {
	configPath string
	envFile    string
	debug      bool

	cfg *config.Config
}

func main() {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:     "taskcal",
		Short:   "Week calendar for the Task API",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.load()
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", defaultConfigPath(), "Path to config file")
	rootCmd.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "Env file read before TASKCAL_* overrides")
	rootCmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd(g))
	rootCmd.AddCommand(snapshotCmd(g))
	rootCmd.AddCommand(loginCmd(g))
	rootCmd.AddCommand(logoutCmd(g))
	rootCmd.AddCommand(whoamiCmd(g))
	rootCmd.AddCommand(registerCmd(g))
	rootCmd.AddCommand(forgotPasswordCmd(g))
	rootCmd.AddCommand(resetPasswordCmd(g))
	rootCmd.AddCommand(tasksCmd(g))
	rootCmd.AddCommand(icsCmd(g))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "taskcal.yaml"
	}
	return filepath.Join(dir, "taskcal", "config.yaml")
}

func (g *globals) load() error {
	config.LoadEnv(g.envFile)

	cfg, err := config.Load(g.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", g.configPath)
		return err
	}
	cfg.ApplyEnv()
	if cfg.SessionFile == "" {
		cfg.SessionFile = filepath.Join(filepath.Dir(g.configPath), "session.json")
	}
	g.cfg = cfg

	level := appLog.ParseLevel(cfg.LogLevel)
	if g.debug {
		level = appLog.LevelDebug
	}
	appLog.SetLevel(level)

	appLog.Debug("effective config",
		"config_path", g.configPath,
		"listen", cfg.Listen,
		"api_url", cfg.APIURL,
		"timezone", cfg.Timezone,
		"task_limit", cfg.TaskLimit,
		"refresh", cfg.RefreshCron,
		"now_tick", cfg.NowTick,
		"overrides_db", cfg.OverridesDB,
	)
	return nil
}

// session opens the stored session. TASKCAL_TOKEN takes precedence and is
// kept in memory only.
func (g *globals) session() (*auth.Session, error) {
	if g.cfg.Token != "" {
		s, err := auth.OpenSession("")
		if err != nil {
			return nil, err
		}
		return s, s.SetAccessToken(g.cfg.Token)
	}
	return auth.OpenSession(g.cfg.SessionFile)
}

func (g *globals) apiClient(s *auth.Session) *api.Client {
	return api.New(g.cfg.APIURL,
		api.WithTimeout(g.cfg.RequestTimeout),
		api.WithTokenSource(s),
		api.WithTimezone(g.cfg.Timezone),
	)
}

func (g *globals) authClient(s *auth.Session) *auth.Client {
	return auth.NewClient(g.cfg.APIURL, s, g.cfg.RequestTimeout)
}

func (g *globals) previewPath() string {
	return filepath.Join(filepath.Dir(g.configPath), "preview.png")
}
