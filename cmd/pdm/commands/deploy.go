package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pdm-pipeline/core/apperr"
	"pdm-pipeline/core/deploy"
)

var (
	deployDetach          bool
	deployMonitorInterval time.Duration
)

// deployCmd serves a registered model version
var deployCmd = &cobra.Command{
	Use:   "deploy [model_name] [version] [port]",
	Short: "serve a registered model version as a local REST server",
	Long: `Resolve a registered model version, start a serving process for it and wait
until it answers GET /ping. The server output goes to the deploy log file,
which is attached to the deploy run and printed when the deployment fails.

Unless --detach is given the command keeps watching the server until it is
interrupted, then stops it.`,
	Example: `  $ pdm deploy
  $ pdm deploy PredictiveMaintenanceModel 2 5002 --detach`,
	Args: cobra.MaximumNArgs(3),
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().BoolVar(&deployDetach, "detach", false, "leave the server running and exit once it is ready")
	deployCmd.Flags().DurationVar(&deployMonitorInterval, "monitor-interval", 30*time.Second, "health check interval while watching the server")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	params := current.params.Deploy
	if len(args) > 0 {
		params.ModelName = args[0]
	}
	if len(args) > 1 {
		params.ModelVersion = args[1]
	}
	if err := intArg(args, 2, "port", &params.Port); err != nil {
		return err
	}
	if params.Port < 1 || params.Port > 65535 {
		return apperr.Invalid("port out of range: %d", params.Port)
	}

	cfg, err := deploy.ConfigFromParams(params)
	if err != nil {
		return err
	}
	cfg.ServeCommand = current.cfg.ServeCommand
	cfg.TrackingURI = current.cfg.TrackingURI

	deployer := deploy.NewDeployer(current.client, deploy.NewExecLauncher(current.logger), current.logger)
	dep, err := current.pipeline.Deploy(cmd.Context(), deployer, cfg)
	if err != nil {
		return err
	}

	fmt.Printf("%s is served at %s (pid %d, log %s)\n", dep.ModelURI, dep.URL, dep.Process.Pid(), dep.LogPath)
	if deployDetach {
		return nil
	}

	fmt.Println("Press Ctrl+C to stop the server")
	return deploy.NewMonitor(deployMonitorInterval, current.logger).Watch(cmd.Context(), dep)
}
