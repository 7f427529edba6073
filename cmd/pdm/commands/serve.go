package commands

import (
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"pdm-pipeline/core/serving"
)

var (
	serveModelURI string
	servePort     int
	serveHost     string
)

// serveCmd runs the scoring server in the foreground
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve a model over REST until interrupted",
	Long: `Load a model and serve GET /ping, GET /health and POST /invocations.
This is the process the deploy command launches.`,
	Example: `  $ pdm serve -m models:/PredictiveMaintenanceModel/1 --port 5001`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveModelURI, "model-uri", "m", "", "model to serve")
	serveCmd.Flags().IntVar(&servePort, "port", 5001, "port to listen on")
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "interface to bind")
	_ = serveCmd.MarkFlagRequired("model-uri")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	model, err := current.client.LoadModel(ctx, serveModelURI)
	if err != nil {
		return err
	}

	server := serving.NewServer(model, serveModelURI, current.logger)
	addr := net.JoinHostPort(serveHost, strconv.Itoa(servePort))
	return serving.ListenAndServe(ctx, addr, server.Handler(), current.logger)
}
