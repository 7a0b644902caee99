package monitor

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/bbockelm/StashCache/pkg/errors"
	"github.com/bbockelm/StashCache/pkg/logging"
	"github.com/bbockelm/StashCache/pkg/probe"
	"github.com/bbockelm/StashCache/pkg/registry"
	"github.com/bbockelm/StashCache/pkg/relay"

	"github.com/cenkalti/backoff/v4"
)

// Options tune the heartbeat monitor cadence.
type Options struct {
	// ServiceName is the identity the managed service registers under.
	ServiceName string

	// Version is stamped onto the located identity record each cycle.
	Version string

	// AdvertiseInterval is the sleep after each advertise round.
	AdvertiseInterval time.Duration

	// AdvertiseRounds is the number of advertise rounds per cycle; the
	// locate/probe/keepalive steps run once per cycle.
	AdvertiseRounds int

	// LocateInitialInterval and LocateMaxInterval bound the backoff
	// between locate retries while the registry reports the record as
	// not yet registered.
	LocateInitialInterval time.Duration
	LocateMaxInterval     time.Duration
}

// target pairs a registry client with a name for logging.
type target struct {
	name   string
	client registry.Client
}

// Monitor is the background heartbeat loop: it locates the managed
// service's identity record in the local registry, verifies the service
// is healthy, sends a keepalive, and advertises identity and health
// records to the local and central registries on a fixed cadence. Any
// unrecoverable condition is classified, deposited into the relay, and
// ends the loop; the monitor never recovers on its own.
type Monitor struct {
	options Options
	local   registry.Client
	targets []target
	probe   probe.Probe
	relay   *relay.Relay
	logger  logging.Logger

	sleep func(d time.Duration)
}

func New(options Options, local, central registry.Client, healthProbe probe.Probe, failureRelay *relay.Relay, logger logging.Logger) *Monitor {
	if options.AdvertiseRounds < 1 {
		options.AdvertiseRounds = 1
	}
	if options.LocateInitialInterval == 0 {
		options.LocateInitialInterval = 500 * time.Millisecond
	}
	if options.LocateMaxInterval == 0 {
		options.LocateMaxInterval = 30 * time.Second
	}
	return &Monitor{
		options: options,
		local:   local,
		targets: []target{
			{name: "local", client: local},
			{name: "central", client: central},
		},
		probe:  healthProbe,
		relay:  failureRelay,
		logger: logger,
		sleep:  time.Sleep,
	}
}

// Start launches the monitor loop in a background goroutine. The
// goroutine does not block process exit and is not cancellable; the
// process terminates it.
func (m *Monitor) Start() {
	go m.run()
}

func (m *Monitor) run() {
	defer func() {
		if r := recover(); r != nil {
			m.fail(errors.NewUnknownError(fmt.Sprintf("monitor panic: %v", r), nil))
		}
	}()

	m.logger.Infof("Heartbeat monitor started, service: %s, interval: %v, rounds: %d",
		m.options.ServiceName, m.options.AdvertiseInterval, m.options.AdvertiseRounds)

	ctx := context.Background()
	for {
		if err := m.cycle(ctx); err != nil {
			m.fail(err)
			return
		}
	}
}

// cycle runs one full pass: locate, stamp, probe, keepalive, then the
// configured number of advertise rounds.
func (m *Monitor) cycle(ctx context.Context) error {
	record, err := m.locate(ctx)
	if err != nil {
		return err
	}

	record.SupervisorVersion = m.options.Version

	health, err := m.probe(ctx)
	if err != nil {
		return errors.NewHealthCheckError("health probe could not run", err).
			WithContext("service", m.options.ServiceName)
	}
	if !health.OK() {
		return errors.NewHealthCheckError(
			fmt.Sprintf("service unhealthy: %s", health.Status), nil).
			WithContext("service", m.options.ServiceName)
	}

	m.logger.Debugf("Health probe ok, service: %s", m.options.ServiceName)

	if err := m.local.Keepalive(ctx, record); err != nil {
		return errors.NewRegistryError("keepalive delivery failed", err).
			WithContext("service", m.options.ServiceName)
	}

	for round := 0; round < m.options.AdvertiseRounds; round++ {
		if err := m.advertiseRound(ctx, record, health); err != nil {
			return err
		}
		m.sleep(m.options.AdvertiseInterval)
	}

	return nil
}

// locate polls the local registry for the managed service's identity
// record. "Not yet registered" is retried with bounded exponential
// backoff; a communication failure is fatal.
func (m *Monitor) locate(ctx context.Context) (*registry.IdentityRecord, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.options.LocateInitialInterval
	policy.MaxInterval = m.options.LocateMaxInterval
	policy.MaxElapsedTime = 0 // retry until registered

	var record *registry.IdentityRecord
	operation := func() error {
		var err error
		record, err = m.local.Locate(ctx, m.options.ServiceName)
		if err == nil {
			return nil
		}
		if stderrors.Is(err, registry.ErrNotRegistered) {
			m.logger.Debugf("Service not yet registered, retrying: %s", m.options.ServiceName)
			return err
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, errors.NewRegistryError("failed to locate service identity record", err).
			WithContext("service", m.options.ServiceName)
	}

	m.logger.Debugf("Located identity record, service: %s", m.options.ServiceName)

	return record, nil
}

// advertiseRound pushes the identity and health records to every target.
func (m *Monitor) advertiseRound(ctx context.Context, record *registry.IdentityRecord, health *registry.HealthRecord) error {
	for _, t := range m.targets {
		pool, err := t.client.PoolName(ctx)
		if err != nil {
			return errors.NewRegistryError(
				fmt.Sprintf("failed to discover %s registry pool name", t.name), err)
		}

		m.logger.Debugf("Advertising to %s registry, pool: %s", t.name, pool)

		if err := t.client.Advertise(ctx, registry.UpdateKindMasterIdentity, record); err != nil {
			return errors.NewRegistryError(
				fmt.Sprintf("%s registry rejected identity update", t.name), err).
				WithContext("pool", pool)
		}
		if err := t.client.Advertise(ctx, registry.UpdateKindHealthStatus, health); err != nil {
			return errors.NewRegistryError(
				fmt.Sprintf("%s registry rejected health update", t.name), err).
				WithContext("pool", pool)
		}
	}
	return nil
}

// fail classifies the error, deposits it into the relay exactly once,
// and lets the goroutine exit.
func (m *Monitor) fail(err error) {
	failure := errors.Classify(err)
	m.logger.Errorf("Heartbeat monitor failed, kind: %s, error: %v", failure.Type, failure)
	m.relay.Deposit(failure)
}
