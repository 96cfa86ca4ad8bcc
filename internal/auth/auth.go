// Package auth resolves API requests to tenants. Callers authenticate
// with a per-tenant API key; the resolved tenant id travels in the
// request context so handlers never trust a client-supplied tenant.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"pulsecrm/backend/internal/logging"
	"pulsecrm/backend/internal/repository"
)

type contextKey string

const tenantIDKey contextKey = "tenant_id"

// WithTenantID returns a context carrying the tenant id.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// TenantID extracts the tenant id set by the middleware, or "".
func TenantID(ctx context.Context) string {
	id, _ := ctx.Value(tenantIDKey).(string)
	return id
}

// Auth authenticates requests against stored tenant API keys.
type Auth struct {
	tenants repository.TenantStore
	logger  *logging.Logger
}

// New creates the auth layer.
func New(tenants repository.TenantStore, logger *logging.Logger) *Auth {
	return &Auth{tenants: tenants, logger: logger}
}

// RequireAPIKey is echo middleware that resolves the request's API key
// to a tenant and injects the tenant id into the request context. The
// key comes from "Authorization: Bearer <key>" or the X-API-Key header.
func (a *Auth) RequireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := extractAPIKey(c.Request())
		if key == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing API key")
		}

		tenant, err := a.tenants.GetTenantByAPIKey(c.Request().Context(), key)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid API key")
			}
			a.logger.Error("tenant lookup failed", "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "authentication unavailable")
		}

		ctx := WithTenantID(c.Request().Context(), tenant.ID)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func extractAPIKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}
