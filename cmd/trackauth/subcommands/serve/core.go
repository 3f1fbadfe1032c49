//
//  Copyright © Manetu Inc. All rights reserved.
//

package serve

import (
	"context"
	"os"
	"os/signal"

	"github.com/manetu/trackauth/cmd/trackauth/common"
	"github.com/manetu/trackauth/internal/logging"
	"github.com/manetu/trackauth/pkg/guard"
	"github.com/urfave/cli/v3"
)

var logger = logging.GetLogger("trackauth")

// Execute runs the serve command, starting the authorizing proxy in front
// of the tracking server and gracefully shutting down on interrupt signals.
func Execute(ctx context.Context, cmd *cli.Command) error {
	port := cmd.Int("port")

	az, err := common.NewCliAuthorizer(cmd)
	if err != nil {
		return err
	}

	server, err := guard.CreateServer(az, int(port))
	if err != nil {
		return err
	}

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	logger.Info("Shutting down server...")

	if err := server.Stop(ctx); err != nil {
		return err
	}

	logger.Info("Server exited gracefully.")
	return nil
}
