//
//  Copyright © Manetu Inc. All rights reserved.
//

package common

import (
	"github.com/manetu/trackauth/pkg/core"
	"github.com/manetu/trackauth/pkg/core/config"
	"github.com/manetu/trackauth/pkg/core/options"
	"github.com/manetu/trackauth/pkg/core/store/sql"
	"github.com/manetu/trackauth/pkg/core/tracking"
	"github.com/urfave/cli/v3"
)

// NewCliAuthorizer creates an Authorizer configured from CLI flags and the
// loaded configuration: the SQL store and the REST tracking gateway.
func NewCliAuthorizer(cmd *cli.Command) (core.Authorizer, error) {
	if err := config.Load(); err != nil {
		return nil, err
	}

	trackingURL := config.VConfig.GetString(config.TrackingURL)
	if u := cmd.String("tracking-url"); u != "" {
		trackingURL = u
	}

	return core.NewAuthorizer(
		options.WithStore(sql.NewFactory()),
		options.WithTracking(tracking.NewClient(trackingURL, nil)),
	)
}
