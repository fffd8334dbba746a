package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httputil"
	"net/url"

	"go.uber.org/zap"

	apperrors "github.com/datapult/datapult/pkg/errors"
	"github.com/datapult/datapult/pkg/response"
)

// Identity headers stamped on proxied requests. Inbound values are stripped
// before the gate runs so clients cannot forge them.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// newUpstreamProxy builds the reverse proxy for one upstream service. The
// proxy rewrites the Host header to the target and answers 502 in the API
// error envelope when the upstream cannot be reached.
func newUpstreamProxy(name string, target *url.URL, log *zap.Logger) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(target)

	director := proxy.Director
	proxy.Director = func(req *http.Request) {
		director(req)
		req.Host = target.Host
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn("upstream request failed",
			zap.String("upstream", name),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeProxyError(w, apperrors.ErrBadGateway)
	}

	return proxy
}

// writeProxyError emits the standard error envelope from outside a gin
// handler chain.
func writeProxyError(w http.ResponseWriter, appErr *apperrors.AppError) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.StatusCode)
	_ = json.NewEncoder(w).Encode(response.Response{
		Success: false,
		Error: &response.ErrorInfo{
			Code:    appErr.Code,
			Message: appErr.Message,
		},
	})
}
