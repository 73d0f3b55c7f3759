// Package cli is the cobra entrypoint for the chat node.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rudransh-shrivastava/gossip-it/internal/config"
	"github.com/rudransh-shrivastava/gossip-it/internal/logger"
	"github.com/rudransh-shrivastava/gossip-it/internal/node"
)

var (
	flagConfig      string
	flagListen      string
	flagTopic       string
	flagNick        string
	flagHistory     string
	flagConnect     []string
	flagNoDiscovery bool
	flagVerbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "chat",
	Short: "LAN gossip chat",
	Long: `chat discovers peers on the local network and broadcasts every line
typed on stdin to them over a gossip mesh.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "path to YAML config file")
	rootCmd.Flags().StringVarP(&flagListen, "listen", "l", "", "listen address (default :0, an OS-assigned port)")
	rootCmd.Flags().StringVarP(&flagTopic, "topic", "t", "", "topic to chat on")
	rootCmd.Flags().StringVarP(&flagNick, "nick", "n", "", "nickname shown to peers")
	rootCmd.Flags().StringVar(&flagHistory, "history", "", "sqlite file for chat history")
	rootCmd.Flags().StringArrayVar(&flagConnect, "connect", nil, "peer address to dial directly (repeatable)")
	rootCmd.Flags().BoolVar(&flagNoDiscovery, "no-discovery", false, "disable multicast peer discovery")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("listen") {
		cfg.ListenAddr = flagListen
	}
	if cmd.Flags().Changed("topic") {
		cfg.Topic = flagTopic
	}
	if cmd.Flags().Changed("nick") {
		cfg.Nick = flagNick
	}
	if cmd.Flags().Changed("history") {
		cfg.HistoryPath = flagHistory
	}
	if flagNoDiscovery {
		cfg.Discovery.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	log := logger.NewLoggerWithLevel(level)

	n, err := node.New(node.Options{
		Config:       cfg,
		Logger:       log,
		ConnectAddrs: flagConnect,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return n.Run(ctx)
}

// Execute runs the CLI; startup failures exit non-zero.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
