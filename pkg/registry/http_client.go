package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bbockelm/StashCache/pkg/errors"
	"github.com/bbockelm/StashCache/pkg/logging"
)

// HTTPClient is a minimal JSON-over-HTTP registry client. It tries each
// address of its pool in order and settles on the first that answers, so
// a central registry configured with a fallback pool keeps working when
// its primary host is down.
type HTTPClient struct {
	addresses []string
	port      int
	client    *http.Client
	logger    logging.Logger
}

func NewHTTPClient(addresses []string, port int, logger logging.Logger) *HTTPClient {
	return &HTTPClient{
		addresses: addresses,
		port:      port,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

type advertiseRequest struct {
	Kind   UpdateKind  `json:"kind"`
	Record interface{} `json:"record"`
}

func (c *HTTPClient) Locate(ctx context.Context, name string) (*IdentityRecord, error) {
	var record IdentityRecord
	status, err := c.do(ctx, http.MethodGet, "records/"+name, nil, &record)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, ErrNotRegistered
	}
	if status != http.StatusOK {
		return nil, errors.NewRegistryError(
			fmt.Sprintf("locate rejected with status %d", status), nil).
			WithContext("name", name)
	}
	return &record, nil
}

func (c *HTTPClient) Query(ctx context.Context, constraint string) ([]*IdentityRecord, error) {
	var records []*IdentityRecord
	status, err := c.do(ctx, http.MethodGet, "records?constraint="+constraint, nil, &records)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, errors.NewRegistryError(
			fmt.Sprintf("query rejected with status %d", status), nil).
			WithContext("constraint", constraint)
	}
	return records, nil
}

func (c *HTTPClient) Keepalive(ctx context.Context, record *IdentityRecord) error {
	status, err := c.do(ctx, http.MethodPost, "keepalive", record, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return errors.NewRegistryError(
			fmt.Sprintf("keepalive rejected with status %d", status), nil).
			WithContext("name", record.Name)
	}
	return nil
}

func (c *HTTPClient) PoolName(ctx context.Context) (string, error) {
	var result struct {
		Pool string `json:"pool"`
	}
	status, err := c.do(ctx, http.MethodGet, "pool", nil, &result)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", errors.NewRegistryError(
			fmt.Sprintf("pool lookup rejected with status %d", status), nil)
	}
	return result.Pool, nil
}

func (c *HTTPClient) Advertise(ctx context.Context, kind UpdateKind, record interface{}) error {
	status, err := c.do(ctx, http.MethodPost, "advertise", advertiseRequest{Kind: kind, Record: record}, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return errors.NewRegistryError(
			fmt.Sprintf("advertise rejected with status %d", status), nil).
			WithContext("kind", string(kind))
	}
	return nil
}

// do issues the request against each pool address in turn, returning the
// first response received. Only transport failures advance to the next
// address; an HTTP status is a registry answer and ends the fallback.
func (c *HTTPClient) do(ctx context.Context, method, path string, payload, out interface{}) (int, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return 0, errors.NewRegistryError("failed to encode registry payload", err)
		}
	}

	var lastErr error
	for _, address := range c.addresses {
		hostport := address
		if !strings.Contains(address, ":") {
			hostport = fmt.Sprintf("%s:%d", address, c.port)
		}
		url := fmt.Sprintf("http://%s/registry/%s", hostport, path)

		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return 0, errors.NewRegistryError("failed to build registry request", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			c.logger.Warnf("Registry address unreachable: %s, error: %v", address, err)
			lastErr = err
			continue
		}

		status := resp.StatusCode
		if out != nil && status == http.StatusOK {
			err = json.NewDecoder(resp.Body).Decode(out)
		} else {
			_, _ = io.Copy(io.Discard, resp.Body)
		}
		resp.Body.Close()
		if err != nil {
			return 0, errors.NewRegistryError("failed to decode registry response", err)
		}
		return status, nil
	}

	return 0, errors.NewRegistryError("all registry addresses unreachable", lastErr).
		WithContext("addresses", c.addresses)
}
