package stages

import (
	"context"

	"pdm-pipeline/core/deploy"
	"pdm-pipeline/core/tracking"
)

// Deploy runs the deploy stage. The returned deployment is Ready and keeps
// serving after the deploy run has ended; the caller owns its process.
func (p *Pipeline) Deploy(ctx context.Context, deployer *deploy.Deployer, cfg deploy.Config) (*deploy.Deployment, error) {
	var dep *deploy.Deployment
	err := Execute(ctx, p.client, p.experiment, StageDeploy, func(ctx context.Context, run *tracking.Run) error {
		var err error
		dep, err = deployer.Deploy(ctx, run, cfg)
		return err
	})
	return dep, err
}
