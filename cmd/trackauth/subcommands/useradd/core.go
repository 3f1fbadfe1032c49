//
//  Copyright © Manetu Inc. All rights reserved.
//

package useradd

import (
	"context"
	"strings"

	"github.com/manetu/trackauth/pkg/common"
	"github.com/manetu/trackauth/pkg/core/config"
	"github.com/manetu/trackauth/pkg/core/store/sql"
	"github.com/urfave/cli/v3"
)

// Execute runs the useradd command, creating or updating a user record in
// the permission store. Its primary purpose is bootstrapping the first
// administrator, after which users can be managed through the admin API.
func Execute(ctx context.Context, cmd *cli.Command) error {
	if err := config.Load(); err != nil {
		return err
	}

	svc, err := sql.NewFactory().NewStore()
	if err != nil {
		return err
	}

	username := strings.ToLower(cmd.String("username"))
	displayName := cmd.String("display-name")
	if displayName == "" {
		displayName = username
	}

	if err := svc.CreateUser(ctx, username, displayName, cmd.Bool("admin"), cmd.String("password")); err != nil {
		return err
	}

	user, err := svc.GetUser(ctx, username)
	if err != nil {
		return err
	}
	common.PrettyPrint(user)
	return nil
}
