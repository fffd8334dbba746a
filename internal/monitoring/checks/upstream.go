package checks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/datapult/datapult/internal/monitoring"
)

const defaultUpstreamTimeout = 3 * time.Second

// Upstream returns a readiness probe that calls another service's liveness
// endpoint. The gateway uses it to report when authd is unreachable.
func Upstream(name, baseURL string, client *http.Client, timeout time.Duration) monitoring.Check {
	if client == nil {
		client = &http.Client{}
	}

	return monitoring.NewCheck(name, func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
		if base == "" {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDown,
				Details:  "upstream not configured",
				Duration: time.Since(start),
			}
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultUpstreamTimeout))
		defer cancel()

		req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, base+"/healthz", nil)
		if err != nil {
			return monitoring.ResultFromError(name, err, time.Since(start))
		}

		resp, err := client.Do(req)
		if err != nil {
			return monitoring.ResultFromError(name, err, time.Since(start))
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDown,
				Details:  fmt.Sprintf("upstream returned %s", resp.Status),
				Duration: time.Since(start),
			}
		}

		return monitoring.ProbeResult{
			Status:   monitoring.StatusUp,
			Duration: time.Since(start),
		}
	})
}
