// Package cli wires the conversation core, permission manager, and agent
// transport into the parley command-line client.
package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/adamavenir/parley/internal/config"
	"github.com/adamavenir/parley/internal/permission"
	"github.com/adamavenir/parley/internal/slash"
	"github.com/adamavenir/parley/internal/transport"
)

var (
	flagConfig string
	flagAgent  string
	flagURL    string
	flagCwd    string
	flagDebug  bool
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Headless client for agent sessions",
	Long: `parley connects to a coding agent over the session protocol,
streams the conversation to stdout, and brokers tool-call approvals.`,
	SilenceUsage: true,
	RunE:         runRoot,
}

func init() {
	rootCmd.Flags().StringVar(&flagConfig, "config", config.DefaultFile, "config file path")
	rootCmd.Flags().StringVar(&flagAgent, "agent", "", "agent command line to spawn")
	rootCmd.Flags().StringVar(&flagURL, "url", "", "websocket URL of a remote agent")
	rootCmd.Flags().StringVar(&flagCwd, "cwd", "", "working directory for the session")
	rootCmd.Flags().BoolVar(&flagDebug, "debug", false, "verbose logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	if flagDebug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

func runRoot(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	agentArgv := agentCommand(cfg)
	url := flagURL
	if url == "" && cfg != nil {
		url = cfg.URL
	}
	if len(agentArgv) == 0 && url == "" {
		return fmt.Errorf("no agent configured: set --agent, --url, or %s", flagConfig)
	}

	cwd := flagCwd
	if cwd == "" {
		cwd, err = os.Getwd()
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	opts := transport.Options{
		Perms:  permission.NewManager(),
		Config: cfg,
		Log:    log,
	}
	var client *transport.Client
	if url != "" {
		client, err = transport.Dial(ctx, url, opts)
	} else {
		client, err = transport.Spawn(ctx, agentArgv, opts)
	}
	if err != nil {
		return err
	}
	defer client.Close()

	conversation, models, err := client.NewSession(ctx, cwd)
	if err != nil {
		return err
	}

	// The agent's advertised models win; the config list is the
	// fallback for agents that do not advertise any.
	if len(models) > 0 {
		slash.SetAvailableModels(models)
	} else if cfg != nil {
		slash.SetAvailableModels(cfg.Models)
	}

	// Live-reload the config so model-list and auto-approve edits take
	// effect without restarting the session.
	go func() {
		err := config.Watch(ctx, flagConfig,
			func(next *config.Config) {
				slash.SetAvailableModels(next.Models)
				log.Info("config reloaded", zap.String("path", flagConfig))
			},
			func(err error) {
				log.Warn("config reload failed", zap.Error(err))
			})
		if err != nil && ctx.Err() == nil {
			log.Warn("config watch stopped", zap.Error(err))
		}
	}()

	printer := newPrinter(os.Stdout, conversation, client.Permissions())
	unsubscribe := conversation.OnChange(printer.refresh)
	defer unsubscribe()

	return runLoop(ctx, client, conversation, log)
}

func agentCommand(cfg *config.Config) []string {
	if flagAgent != "" {
		return strings.Fields(flagAgent)
	}
	if cfg != nil {
		return cfg.Agent
	}
	return nil
}
