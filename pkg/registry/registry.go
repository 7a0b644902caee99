package registry

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
)

// UpdateKind tags an advertised record so the registry knows how to
// merge it.
type UpdateKind string

const (
	UpdateKindMasterIdentity UpdateKind = "master-identity"
	UpdateKindHealthStatus   UpdateKind = "health-status"
)

// StatusOK is the health status reported by a passing probe; anything
// else is a failure indicator.
const StatusOK = "ok"

// IdentityRecord is a machine/service announcement tracked by a
// registry. The heartbeat monitor re-locates it each cycle and stamps
// the supervisor version before advertising it back.
type IdentityRecord struct {
	Name              string                 `json:"name"`
	Address           string                 `json:"address,omitempty"`
	SupervisorVersion string                 `json:"supervisor_version,omitempty"`
	Attributes        map[string]interface{} `json:"attributes,omitempty"`
}

// HealthRecord is a status/metrics snapshot for the managed service,
// produced once per monitor cycle. Transient, never persisted.
type HealthRecord struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version,omitempty"`
	Metrics map[string]interface{} `json:"metrics,omitempty"`
}

func (r *HealthRecord) OK() bool {
	return r != nil && r.Status == StatusOK
}

// ErrNotRegistered reports that the registry is reachable but the
// requested record has not appeared yet. Callers retry; any other
// locate failure is a communication error.
var ErrNotRegistered = errors.New("record not yet registered")

// Client is the registry/collector interface. Implementations own the
// wire protocol; the supervisor only depends on these operations.
type Client interface {
	// Locate fetches the identity record registered under name,
	// returning ErrNotRegistered while the record has not appeared.
	Locate(ctx context.Context, name string) (*IdentityRecord, error)

	// Query fetches all identity records matching a constraint
	// expression.
	Query(ctx context.Context, constraint string) ([]*IdentityRecord, error)

	// Keepalive sends a lightweight liveness signal for the record,
	// distinct from a full advertisement.
	Keepalive(ctx context.Context, record *IdentityRecord) error

	// PoolName reports the registry's own pool name.
	PoolName(ctx context.Context) (string, error)

	// Advertise sends a record update of the given kind.
	Advertise(ctx context.Context, kind UpdateKind, record interface{}) error
}

// LocalHostname returns the host's fully-qualified name, used to address
// the local registry. Falls back to the bare hostname when reverse
// lookup yields nothing.
func LocalHostname() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", err
	}

	addrs, err := net.LookupHost(hostname)
	if err != nil || len(addrs) == 0 {
		return hostname, nil
	}
	names, err := net.LookupAddr(addrs[0])
	if err != nil || len(names) == 0 {
		return hostname, nil
	}
	return strings.TrimSuffix(names[0], "."), nil
}
