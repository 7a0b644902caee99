package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/bbockelm/StashCache/pkg/logging"
	"github.com/bbockelm/StashCache/pkg/registry"
)

// Probe produces a health record for the managed service. The monitor
// invokes it once per cycle; a record whose status is not ok is treated
// as a fatal health failure. A non-nil error means the probe itself
// could not run, not that the service is unhealthy.
type Probe func(ctx context.Context) (*registry.HealthRecord, error)

// NewHTTPProbe reports ok for any 2xx response from the service
// endpoint, with the status code and request latency as metrics.
func NewHTTPProbe(url string, timeout time.Duration, version string, logger logging.Logger) Probe {
	client := &http.Client{
		Timeout: timeout,
	}

	return func(ctx context.Context) (*registry.HealthRecord, error) {
		logger.Debugf("Performing HTTP health probe, url: %s", url)

		record := &registry.HealthRecord{
			Version: version,
			Metrics: map[string]interface{}{},
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}

		started := time.Now()
		resp, err := client.Do(req)
		record.Metrics["probe_latency_ms"] = time.Since(started).Milliseconds()
		if err != nil {
			record.Status = fmt.Sprintf("probe request failed: %v", err)
			return record, nil
		}
		defer resp.Body.Close()

		record.Metrics["status_code"] = resp.StatusCode

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			record.Status = registry.StatusOK
		} else {
			record.Status = fmt.Sprintf("unexpected response: %d %s", resp.StatusCode, resp.Status)
		}

		return record, nil
	}
}

// NewTCPProbe reports ok when the service endpoint accepts a connection.
func NewTCPProbe(address string, timeout time.Duration, version string, logger logging.Logger) Probe {
	return func(ctx context.Context) (*registry.HealthRecord, error) {
		logger.Debugf("Performing TCP health probe, address: %s", address)

		record := &registry.HealthRecord{
			Version: version,
			Metrics: map[string]interface{}{},
		}

		started := time.Now()
		dialer := &net.Dialer{Timeout: timeout}
		conn, err := dialer.DialContext(ctx, "tcp", address)
		record.Metrics["probe_latency_ms"] = time.Since(started).Milliseconds()
		if err != nil {
			record.Status = fmt.Sprintf("connection failed: %v", err)
			return record, nil
		}
		conn.Close()

		record.Status = registry.StatusOK
		return record, nil
	}
}
