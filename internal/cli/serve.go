package cli

import (
	"github.com/spf13/cobra"

	"github.com/tutu-network/tutu-infer/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (overrides config)")
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 0, "initial worker pool size (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost    string
	servePort    int
	serveWorkers int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tutu-infer scheduler daemon",
	Long:  `Run the HTTP API, health checker, and autoscaling worker pool until interrupted.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}

	if serveHost != "" {
		cfg.API.Host = serveHost
	}
	if servePort > 0 {
		cfg.API.Port = servePort
	}
	if serveWorkers > 0 {
		cfg.Pool.Workers = serveWorkers
	}

	return daemon.New(cfg).Run()
}
