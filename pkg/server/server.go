// Package server assembles the admin HTTP API: release inspection, delivery
// provenance, and publish controls.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/echo/v4/health"
	"github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/robinjoseph08/golib/echo/v4/middleware/recovery"
	"github.com/tonefeed/ddexd/pkg/binder"
	"github.com/tonefeed/ddexd/pkg/config"
	"github.com/tonefeed/ddexd/pkg/errcodes"
	"github.com/tonefeed/ddexd/pkg/releases"
	"github.com/tonefeed/ddexd/pkg/storage"
	"github.com/tonefeed/ddexd/pkg/users"
	"github.com/tonefeed/ddexd/pkg/xmls"
	"github.com/uptrace/bun"
)

func New(cfg *config.Config, db *bun.DB, store storage.ObjectStore) (*http.Server, error) {
	e := echo.New()

	b, err := binder.New()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	e.Binder = b

	e.Use(logger.Middleware())
	e.Use(recovery.Middleware())
	e.Use(middleware.CORS())

	health.RegisterRoutes(e)

	releases.RegisterRoutesWithGroup(e.Group("/releases"), db, store)
	xmls.RegisterRoutesWithGroup(e.Group("/xmls"), db)
	users.RegisterRoutesWithGroup(e.Group("/users"), db)

	echo.NotFoundHandler = notFoundHandler
	e.HTTPErrorHandler = errcodes.NewHandler().Handle

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		Handler:           e,
		ReadHeaderTimeout: 3 * time.Second,
	}

	return srv, nil
}

func notFoundHandler(c echo.Context) error {
	c.SetPath("/:path")
	return errcodes.NotFound("Page")
}
