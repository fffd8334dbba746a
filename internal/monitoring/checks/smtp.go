package checks

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/datapult/datapult/internal/monitoring"
)

const defaultSMTPTimeout = 3 * time.Second

// SMTP returns a readiness probe that opens a TCP connection to the mail
// relay. Disabled delivery reports up so an intentionally mail-less
// deployment stays ready.
func SMTP(enabled bool, host string, port int, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("smtp", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if !enabled {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusUp,
				Details:  "smtp delivery disabled",
				Duration: time.Since(start),
			}
		}

		dialer := &net.Dialer{Timeout: chooseTimeout(timeout, defaultSMTPTimeout)}
		conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
		if err != nil {
			return monitoring.ResultFromError("smtp", err, time.Since(start))
		}
		_ = conn.Close()

		return monitoring.ProbeResult{
			Status:   monitoring.StatusUp,
			Duration: time.Since(start),
		}
	})
}
