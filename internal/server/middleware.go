// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"fmt"

	"codeberg.org/oliverandrich/memberdir/internal/config"
	"codeberg.org/oliverandrich/memberdir/internal/middleware"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

func setupMiddleware(e *echo.Echo, cfg *config.Config) {
	e.Pre(echomw.RemoveTrailingSlash())

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger())
	e.Use(echomw.SecureWithConfig(secureConfig(cfg)))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dM", max(cfg.Server.MaxBodySize, 1))))
	e.Use(middleware.Locale())
}

// secureConfig sets the security headers. HSTS is only sent in production.
func secureConfig(cfg *config.Config) echomw.SecureConfig {
	sc := echomw.DefaultSecureConfig
	sc.ContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"
	sc.ReferrerPolicy = "no-referrer"
	if cfg.IsProduction() {
		sc.HSTSMaxAge = 31536000
	}
	return sc
}
