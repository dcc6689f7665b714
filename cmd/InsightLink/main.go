package main

import (
	"fmt"
	"os"

	"InsightLink/internal/config"
	"InsightLink/pkg/zlog"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "InsightLink",
	Short: "Conversational analytics service",
	Long: `InsightLink answers business questions in natural language.

Available subcommands:
  serve   - Run the HTTP / websocket / MCP server (default)
  seed    - Load a YAML semantic catalog into the database and vector store
  reembed - Rebuild embeddings whose model version is stale
  token   - Issue a JWT for a user id`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		conf := config.GetConfig()
		return zlog.Init(conf.LogConfig.LogPath, conf.LogConfig.Level)
	},
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd, seedCmd, reembedCmd, tokenCmd)
}

func main() {
	defer zlog.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
