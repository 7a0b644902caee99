package monitor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bbockelm/StashCache/pkg/errors"
	"github.com/bbockelm/StashCache/pkg/probe"
	"github.com/bbockelm/StashCache/pkg/registry"
	"github.com/bbockelm/StashCache/pkg/relay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRegistry is a mock implementation of registry.Client for testing
type MockRegistry struct {
	mock.Mock
}

func (m *MockRegistry) Locate(ctx context.Context, name string) (*registry.IdentityRecord, error) {
	args := m.Called(name)
	record, _ := args.Get(0).(*registry.IdentityRecord)
	return record, args.Error(1)
}

func (m *MockRegistry) Query(ctx context.Context, constraint string) ([]*registry.IdentityRecord, error) {
	args := m.Called(constraint)
	records, _ := args.Get(0).([]*registry.IdentityRecord)
	return records, args.Error(1)
}

func (m *MockRegistry) Keepalive(ctx context.Context, record *registry.IdentityRecord) error {
	args := m.Called(record)
	return args.Error(0)
}

func (m *MockRegistry) PoolName(ctx context.Context) (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *MockRegistry) Advertise(ctx context.Context, kind registry.UpdateKind, record interface{}) error {
	args := m.Called(kind, record)
	return args.Error(0)
}

// MockLogger is a mock implementation of Logger for testing
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) LogLevelf(level int, format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Debugf(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Infof(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Warnf(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Errorf(format string, args ...interface{}) {
	m.Called(format, args)
}

func newQuietLogger() *MockLogger {
	logger := &MockLogger{}
	logger.On("Debugf", mock.Anything, mock.Anything).Maybe()
	logger.On("Infof", mock.Anything, mock.Anything).Maybe()
	logger.On("Warnf", mock.Anything, mock.Anything).Maybe()
	logger.On("Errorf", mock.Anything, mock.Anything).Maybe()
	return logger
}

func okProbe(version string) probe.Probe {
	return func(ctx context.Context) (*registry.HealthRecord, error) {
		return &registry.HealthRecord{
			Status:  registry.StatusOK,
			Version: version,
			Metrics: map[string]interface{}{"cache_hits": 42},
		}, nil
	}
}

func testOptions() Options {
	return Options{
		ServiceName:           "xrootd@cache",
		Version:               "1.2.3",
		AdvertiseInterval:     time.Millisecond,
		AdvertiseRounds:       2,
		LocateInitialInterval: time.Millisecond,
		LocateMaxInterval:     5 * time.Millisecond,
	}
}

func newTestMonitor(local, central *MockRegistry, healthProbe probe.Probe, failureRelay *relay.Relay) *Monitor {
	m := New(testOptions(), local, central, healthProbe, failureRelay, newQuietLogger())
	m.sleep = func(time.Duration) {}
	return m
}

func identityRecord() *registry.IdentityRecord {
	return &registry.IdentityRecord{
		Name:    "xrootd@cache",
		Address: "cache01.example.net",
	}
}

func TestCycleAdvertisesTwicePerTargetAndKeepsAliveOnce(t *testing.T) {
	local := &MockRegistry{}
	central := &MockRegistry{}

	record := identityRecord()
	local.On("Locate", "xrootd@cache").Return(record, nil).Once()
	local.On("Keepalive", record).Return(nil).Once()

	for _, target := range []*MockRegistry{local, central} {
		target.On("PoolName").Return("osg-pool", nil).Times(2)
		target.On("Advertise", registry.UpdateKindMasterIdentity, mock.Anything).Return(nil).Times(2)
		target.On("Advertise", registry.UpdateKindHealthStatus, mock.Anything).Return(nil).Times(2)
	}

	m := newTestMonitor(local, central, okProbe("1.2.3"), relay.New())

	require.NoError(t, m.cycle(context.Background()))

	local.AssertExpectations(t)
	central.AssertExpectations(t)
	local.AssertNumberOfCalls(t, "Keepalive", 1)
}

func TestCycleStampsSupervisorVersion(t *testing.T) {
	local := &MockRegistry{}
	central := &MockRegistry{}

	record := identityRecord()
	local.On("Locate", "xrootd@cache").Return(record, nil)
	local.On("Keepalive", mock.Anything).Return(nil)

	for _, target := range []*MockRegistry{local, central} {
		target.On("PoolName").Return("osg-pool", nil)
		target.On("Advertise", mock.Anything, mock.Anything).Return(nil)
	}

	m := newTestMonitor(local, central, okProbe("1.2.3"), relay.New())

	require.NoError(t, m.cycle(context.Background()))

	assert.Equal(t, "1.2.3", record.SupervisorVersion)
}

func TestUnhealthyProbeProducesSingleHealthCheckFailure(t *testing.T) {
	local := &MockRegistry{}
	central := &MockRegistry{}

	local.On("Locate", "xrootd@cache").Return(identityRecord(), nil)

	badProbe := func(ctx context.Context) (*registry.HealthRecord, error) {
		return &registry.HealthRecord{Status: "cache unresponsive"}, nil
	}

	failureRelay := relay.New()
	m := newTestMonitor(local, central, badProbe, failureRelay)

	m.run() // exits after depositing the failure

	failure := failureRelay.Consume()
	assert.Equal(t, errors.ErrorTypeHealthCheck, failure.Type)
	assert.Contains(t, failure.Message, "cache unresponsive")

	// No registry traffic after the failed probe
	local.AssertNotCalled(t, "Keepalive", mock.Anything)
	local.AssertNotCalled(t, "Advertise", mock.Anything, mock.Anything)
	central.AssertNotCalled(t, "Advertise", mock.Anything, mock.Anything)
}

func TestProbeExecutionFailureIsHealthCheckError(t *testing.T) {
	local := &MockRegistry{}
	central := &MockRegistry{}

	local.On("Locate", "xrootd@cache").Return(identityRecord(), nil)

	brokenProbe := func(ctx context.Context) (*registry.HealthRecord, error) {
		return nil, fmt.Errorf("endpoint parse error")
	}

	failureRelay := relay.New()
	m := newTestMonitor(local, central, brokenProbe, failureRelay)
	m.run()

	failure := failureRelay.Consume()
	assert.Equal(t, errors.ErrorTypeHealthCheck, failure.Type)
}

func TestLocateRetriesWhileNotRegistered(t *testing.T) {
	local := &MockRegistry{}
	central := &MockRegistry{}

	record := identityRecord()
	local.On("Locate", "xrootd@cache").Return(nil, registry.ErrNotRegistered).Times(3)
	local.On("Locate", "xrootd@cache").Return(record, nil).Once()
	local.On("Keepalive", mock.Anything).Return(nil)

	for _, target := range []*MockRegistry{local, central} {
		target.On("PoolName").Return("osg-pool", nil)
		target.On("Advertise", mock.Anything, mock.Anything).Return(nil)
	}

	m := newTestMonitor(local, central, okProbe("1.2.3"), relay.New())

	require.NoError(t, m.cycle(context.Background()))
	local.AssertNumberOfCalls(t, "Locate", 4)
}

func TestLocateCommunicationFailureIsFatal(t *testing.T) {
	local := &MockRegistry{}
	central := &MockRegistry{}

	local.On("Locate", "xrootd@cache").Return(nil, fmt.Errorf("connection refused"))

	failureRelay := relay.New()
	m := newTestMonitor(local, central, okProbe("1.2.3"), failureRelay)
	m.run()

	failure := failureRelay.Consume()
	assert.Equal(t, errors.ErrorTypeRegistry, failure.Type)
	local.AssertNumberOfCalls(t, "Locate", 1)
}

func TestKeepaliveDeliveryFailureIsFatal(t *testing.T) {
	local := &MockRegistry{}
	central := &MockRegistry{}

	local.On("Locate", "xrootd@cache").Return(identityRecord(), nil)
	local.On("Keepalive", mock.Anything).Return(fmt.Errorf("rejected"))

	failureRelay := relay.New()
	m := newTestMonitor(local, central, okProbe("1.2.3"), failureRelay)
	m.run()

	failure := failureRelay.Consume()
	assert.Equal(t, errors.ErrorTypeRegistry, failure.Type)
	local.AssertNotCalled(t, "Advertise", mock.Anything, mock.Anything)
}

func TestAdvertiseRejectionIsFatalRegistryError(t *testing.T) {
	local := &MockRegistry{}
	central := &MockRegistry{}

	local.On("Locate", "xrootd@cache").Return(identityRecord(), nil)
	local.On("Keepalive", mock.Anything).Return(nil)
	local.On("PoolName").Return("osg-pool", nil)
	local.On("Advertise", registry.UpdateKindMasterIdentity, mock.Anything).
		Return(fmt.Errorf("malformed record"))

	failureRelay := relay.New()
	m := newTestMonitor(local, central, okProbe("1.2.3"), failureRelay)
	m.run()

	failure := failureRelay.Consume()
	assert.Equal(t, errors.ErrorTypeRegistry, failure.Type)
	central.AssertNotCalled(t, "Advertise", mock.Anything, mock.Anything)
}

func TestProbePanicIsClassifiedUnknownWithStack(t *testing.T) {
	local := &MockRegistry{}
	central := &MockRegistry{}

	local.On("Locate", "xrootd@cache").Return(identityRecord(), nil)

	panicProbe := func(ctx context.Context) (*registry.HealthRecord, error) {
		panic("nil map write")
	}

	failureRelay := relay.New()
	m := newTestMonitor(local, central, panicProbe, failureRelay)
	m.run()

	failure := failureRelay.Consume()
	assert.Equal(t, errors.ErrorTypeUnknown, failure.Type)
	assert.NotEmpty(t, failure.Stack)
	assert.Contains(t, failure.Message, "nil map write")
}

func TestCycleSleepsAfterEachAdvertiseRound(t *testing.T) {
	local := &MockRegistry{}
	central := &MockRegistry{}

	local.On("Locate", "xrootd@cache").Return(identityRecord(), nil)
	local.On("Keepalive", mock.Anything).Return(nil)

	for _, target := range []*MockRegistry{local, central} {
		target.On("PoolName").Return("osg-pool", nil)
		target.On("Advertise", mock.Anything, mock.Anything).Return(nil)
	}

	m := newTestMonitor(local, central, okProbe("1.2.3"), relay.New())

	var sleeps []time.Duration
	m.sleep = func(d time.Duration) {
		sleeps = append(sleeps, d)
	}

	require.NoError(t, m.cycle(context.Background()))

	require.Len(t, sleeps, 2)
	assert.Equal(t, testOptions().AdvertiseInterval, sleeps[0])
}
