package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/amiyamandal-dev/makeParallel/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 0, "Pool worker count (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost    string
	servePort    int
	serveWorkers int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the task runtime API server",
	Long:  `Start the runtime daemon with its HTTP API and metrics endpoint.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}

	// Override config from flags
	if serveHost != "" {
		d.Config.API.Host = serveHost
	}
	if servePort > 0 {
		d.Config.API.Port = servePort
	}
	if serveWorkers > 0 {
		d.Runtime.ConfigureWorkers(serveWorkers)
	}

	return d.Serve(context.Background())
}
