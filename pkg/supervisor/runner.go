package supervisor

import (
	"os"

	"github.com/bbockelm/StashCache/pkg/config"
	"github.com/bbockelm/StashCache/pkg/control"
	"github.com/bbockelm/StashCache/pkg/errors"
	"github.com/bbockelm/StashCache/pkg/logging"
	"github.com/bbockelm/StashCache/pkg/monitor"
	"github.com/bbockelm/StashCache/pkg/probe"
	"github.com/bbockelm/StashCache/pkg/registry"
	"github.com/bbockelm/StashCache/pkg/relay"
)

func componentLogger(logger logging.Logger, component string) logging.Logger {
	return logging.NewLogger(component+": ", logging.LogFuncs{
		Debugf: logger.Debugf,
		Infof:  logger.Infof,
		Warnf:  logger.Warnf,
		Errorf: logger.Errorf,
	})
}

// Run wires the supervisor together and blocks until the process exits
// through a signal handler or a fatal monitor failure. An error return
// means startup itself failed; the caller exits non-zero.
func Run(configFile string, version string, logger logging.Logger) error {
	logger.Infof("Supervisor starting, version: %s", version)

	var cfg *config.Config
	var err error
	if configFile != "" {
		logger.Infof("Using CONFIGURATION FILE: %s", configFile)
		cfg, err = config.LoadConfigFromFile(configFile)
		if err != nil {
			return errors.NewControllerError("failed to load configuration", err).
				WithContext("config_file", configFile)
		}
	} else {
		cfg = config.Default()
	}

	if err := config.ValidateConfig(cfg); err != nil {
		return errors.NewControllerError("configuration validation failed", err).
			WithContext("config_file", configFile)
	}

	// Startup precondition: the PKI artifacts must exist before the
	// service is started or anything is advertised.
	for _, path := range []string{cfg.Credentials.HostCert, cfg.Credentials.HostKey} {
		if _, err := os.Stat(path); err != nil {
			return errors.NewControllerError("missing credential file", err).
				WithContext("path", path)
		}
	}

	controller := control.NewController(cfg.Service, componentLogger(logger, "controller"))

	// Resolve the unit up front so a missing variant configuration is a
	// startup failure rather than a surprise on the first signal.
	unit, err := controller.Unit()
	if err != nil {
		return err
	}
	logger.Infof("Managing service unit: %s (%s)", unit.Name, unit.Mechanism)

	result, err := controller.Execute(control.CommandStart)
	if err != nil {
		return err
	}
	if !result.Succeeded() {
		// The monitor's health probe will relay this as fatal if the
		// service really is not up.
		logger.Warnf("Service start exited with code %d, stderr: %s", result.ExitCode, result.Stderr)
	} else {
		logger.Infof("Service started: %s", unit.Name)
	}

	localHost := cfg.Registry.LocalAddress
	if localHost == "" {
		localHost, err = registry.LocalHostname()
		if err != nil {
			return errors.NewRegistryError("failed to determine local hostname", err)
		}
	}

	registryLogger := componentLogger(logger, "registry")
	local := registry.NewHTTPClient([]string{localHost}, cfg.Registry.Port, registryLogger)
	central := registry.NewHTTPClient(cfg.CentralAddresses(), cfg.Registry.Port, registryLogger)

	healthProbe := probe.NewHTTPProbe(cfg.Monitor.ProbeURL, cfg.Monitor.ProbeTimeout.Std(), version,
		componentLogger(logger, "probe"))

	failureRelay := relay.New()

	heartbeat := monitor.New(monitor.Options{
		ServiceName:       unit.Name,
		Version:           version,
		AdvertiseInterval: cfg.Monitor.AdvertiseInterval.Std(),
		AdvertiseRounds:   cfg.Monitor.AdvertiseRounds,
	}, local, central, healthProbe, failureRelay, componentLogger(logger, "monitor"))
	heartbeat.Start()

	supervisor := New(controller, failureRelay, componentLogger(logger, "dispatcher"))
	supervisor.Run()

	return nil
}
