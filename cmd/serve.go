package cmd

import (
	"github.com/spf13/cobra"

	"github.com/vid2md/vid2md/internal"
)

// serveCmd runs the HTTP API server
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Run an HTTP server exposing article generation as an API.

Endpoints:
  POST /api/generation/start   start a background generation job
  GET  /api/generation/status  poll a job's progress
  GET  /api/generation/result  download the finished article
  GET  /api/articles           list stored articles

Jobs run in the background and survive the originating request. On shutdown
the server waits for in-flight jobs to finish.`,
	Example: `  # Serve on the configured address (default :8080)
  vid2md serve

  # Serve on a different address
  vid2md serve --addr :9090`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := internal.ValidateGenerationRequirements(config); err != nil {
			return err
		}
		if err := internal.HandleGenerationFlags(cmd, config); err != nil {
			return err
		}

		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = config.Addr
		}

		app, err := internal.NewApp(config)
		if err != nil {
			return err
		}
		defer app.Close()

		server := internal.NewServer(app.NewRunner(nil), app.Store(), nil)
		return server.Run(cmd.Context(), addr)
	},
}

func init() {
	internal.AddGenerationFlags(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}
