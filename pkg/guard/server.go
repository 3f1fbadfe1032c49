//
//  Copyright © Manetu Inc. All rights reserved.
//

package guard

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/labstack/echo/v4"
	"github.com/manetu/trackauth/pkg/core"
	"github.com/manetu/trackauth/pkg/core/config"
	"github.com/pkg/errors"
)

// Server is the authorizing reverse proxy in front of the tracking server.
type Server struct {
	echo *echo.Echo
}

// CreateServer creates and starts the proxy on the given port. Every
// request outside the login flow is authenticated and checked against the
// route table before being forwarded to tracking.url.
func CreateServer(az core.Authorizer, port int) (*Server, error) {
	target, err := url.Parse(config.VConfig.GetString(config.TrackingURL))
	if err != nil {
		return nil, errors.Wrap(err, "parsing tracking server url")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	NewLoginHandler(az, nil).Register(e)
	NewAdminAPI(az).Register(e.Group("/api/2.0/trackauth", RequireAuth(az)))

	proxy := httputil.NewSingleHostReverseProxy(target)
	e.Any("/*", echo.WrapHandler(proxy), RequireAuth(az), Authorize(az))

	// Start server in goroutine since e.Start() blocks
	go func() {
		if err := e.Start(fmt.Sprintf(":%d", port)); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal(err)
		}
	}()

	logger.Infof("proxying authorized traffic to %s", target)
	return &Server{echo: e}, nil
}

// Stop gracefully stops the Server by shutting down the Echo HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
