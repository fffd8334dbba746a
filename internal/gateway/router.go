package gateway

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/datapult/datapult/internal/app"
	iauth "github.com/datapult/datapult/internal/auth"
	"github.com/datapult/datapult/internal/handlers"
	"github.com/datapult/datapult/internal/middleware"
	"github.com/datapult/datapult/internal/monitoring"
	"github.com/datapult/datapult/internal/monitoring/checks"
	apperrors "github.com/datapult/datapult/pkg/errors"
	"github.com/datapult/datapult/pkg/logger"
	"github.com/datapult/datapult/pkg/metrics"
	"github.com/datapult/datapult/pkg/response"
)

// NewRouter assembles the edge gateway: a public pass-through to the auth
// service plus introspection-gated reverse proxies for every configured
// upstream.
func NewRouter(cfg *app.Config, introspector Introspector) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if introspector == nil {
		return nil, fmt.Errorf("introspector must be provided")
	}

	log := logger.WithModule("gateway")

	authTarget, err := url.Parse(cfg.Gateway.AuthURL)
	if err != nil || authTarget.Host == "" {
		return nil, fmt.Errorf("gateway: invalid auth url %q", cfg.Gateway.AuthURL)
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORSWithOrigins(cfg.Server.AllowedOrigins))
	// The gateway fronts every service, so it carries a wider budget than authd.
	r.Use(middleware.RateLimit(300, time.Minute))
	r.Use(stripIdentityHeaders())

	registerHealthRoutes(r, cfg, gatewayHealthManager(cfg))

	// Credential routes forward to authd untouched. Introspection is
	// service-to-service only and never exposed at the edge.
	authProxy := newUpstreamProxy("auth", authTarget, log)
	r.Any("/api/auth/*rest", func(c *gin.Context) {
		if strings.TrimRight(c.Param("rest"), "/") == "/validate" {
			response.Error(c, apperrors.ErrNotFound)
			return
		}
		serveProxied(c, "auth", authProxy)
	})

	gate := authGate(introspector)
	for _, upstream := range cfg.Gateway.Upstreams {
		target, err := url.Parse(upstream.URL)
		if err != nil || target.Host == "" {
			return nil, fmt.Errorf("gateway: invalid url %q for upstream %s", upstream.URL, upstream.Name)
		}

		name := upstream.Name
		proxy := newUpstreamProxy(name, target, log)

		grp := r.Group(upstream.Prefix)
		grp.Use(gate)
		grp.Any("/*rest", func(c *gin.Context) {
			serveProxied(c, name, proxy)
		})
	}

	registerMetricsRoute(r, cfg)

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

// authGate admits only bearer tokens the auth service recognises as live
// access tokens, then stamps the caller's identity onto the forwarded
// request.
func authGate(introspector Introspector) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := strings.TrimSpace(c.GetHeader("Authorization"))
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, apperrors.ErrUnauthorized)
			c.Abort()
			return
		}
		token := strings.TrimSpace(authz[7:])

		verdict, err := introspector.Introspect(c.Request.Context(), token)
		if err != nil {
			response.Error(c, apperrors.ErrServiceUnavailable.WithInternal(err))
			c.Abort()
			return
		}

		// Refresh tokens are only good for /api/auth/refresh; they never
		// cross the edge into upstream services.
		if !verdict.Valid || verdict.TokenType != iauth.TokenTypeAccess {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, apperrors.NewUnauthorized("Token is invalid or has expired"))
			c.Abort()
			return
		}

		c.Request.Header.Set(HeaderUserID, verdict.UserID)
		c.Request.Header.Set(HeaderUserRole, verdict.Role)
		c.Next()
	}
}

// stripIdentityHeaders drops inbound identity headers so the only values the
// upstreams ever see are the ones the gate stamped.
func stripIdentityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Header.Del(HeaderUserID)
		c.Request.Header.Del(HeaderUserRole)
		c.Next()
	}
}

// serveProxied forwards the request and counts the outcome per route.
func serveProxied(c *gin.Context, route string, proxy *httputil.ReverseProxy) {
	proxy.ServeHTTP(c.Writer, c.Request)
	metrics.ProxiedRequests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
}

// gatewayHealthManager wires a readiness probe per upstream; the gateway is
// only useful when the services behind it answer.
func gatewayHealthManager(cfg *app.Config) *monitoring.HealthManager {
	manager := monitoring.NewHealthManager()

	client := &http.Client{}
	manager.RegisterReadiness(checks.Upstream("auth", cfg.Gateway.AuthURL, client, cfg.Gateway.IntrospectTimeout))
	for _, upstream := range cfg.Gateway.Upstreams {
		manager.RegisterReadiness(checks.Upstream(upstream.Name, upstream.URL, client, cfg.Gateway.IntrospectTimeout))
	}
	return manager
}

func registerHealthRoutes(r *gin.Engine, cfg *app.Config, manager *monitoring.HealthManager) {
	if !cfg.Monitoring.Health.Enabled {
		return
	}
	r.GET("/healthz", handlers.Healthz(manager))
	r.GET("/readyz", handlers.Readyz(manager))
}

func registerMetricsRoute(r *gin.Engine, cfg *app.Config) {
	if !cfg.Monitoring.Prometheus.Enabled {
		return
	}
	endpoint := cfg.Monitoring.Prometheus.Endpoint
	if endpoint == "" {
		endpoint = "/metrics"
	}
	r.GET(endpoint, gin.WrapH(promhttp.Handler()))
}
