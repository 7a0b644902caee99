package supervisor

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/bbockelm/StashCache/pkg/control"
	"github.com/bbockelm/StashCache/pkg/errors"
	"github.com/bbockelm/StashCache/pkg/logging"
	"github.com/bbockelm/StashCache/pkg/relay"
)

// ServiceController is the slice of the controller the dispatcher
// needs.
type ServiceController interface {
	Execute(command control.Command) (control.Result, error)
	Kill()
}

// Supervisor owns the signal-driven main loop: lifecycle signals are
// dispatched to the service controller, and the relay wake triggers
// consumption of the monitor's failure and process shutdown. The
// signal map, relay, and controller live here as instance fields so
// tests can construct a supervisor with fakes injected.
type Supervisor struct {
	controller ServiceController
	relay      *relay.Relay
	commands   map[os.Signal]control.Command
	logger     logging.Logger

	exit func(code int)
}

func New(controller ServiceController, failureRelay *relay.Relay, logger logging.Logger) *Supervisor {
	return &Supervisor{
		controller: controller,
		relay:      failureRelay,
		commands: map[os.Signal]control.Command{
			syscall.SIGHUP:  control.CommandRestart,
			syscall.SIGQUIT: control.CommandStop,
			syscall.SIGTERM: control.CommandStop,
		},
		logger: logger,
		exit:   os.Exit,
	}
}

// Run parks the main loop until a lifecycle signal or a relay wake
// arrives. It performs no polling and never returns in normal
// operation; both signal classes terminate the process through their
// handlers.
func (s *Supervisor) Run() {
	sig := make(chan os.Signal, 1)
	lifecycle := make([]os.Signal, 0, len(s.commands))
	for signum := range s.commands {
		lifecycle = append(lifecycle, signum)
	}
	signal.Notify(sig, lifecycle...)

	s.logger.Infof("Supervisor ready, waiting for signals...")

	for {
		select {
		case received := <-sig:
			s.handleSignal(received)
		case <-s.relay.Wake():
			s.handleFailure()
		}
	}
}

// handleSignal dispatches one lifecycle signal. Controller failures are
// recovered inline: the service is killed, and a restart-mapped signal
// additionally attempts a fresh start. Stop-mapped signals always end
// the process with exit code 0, whatever the controller outcome.
func (s *Supervisor) handleSignal(received os.Signal) {
	command, ok := s.commands[received]
	if !ok {
		s.logger.Warnf("Ignoring unmapped signal: %v", received)
		return
	}

	s.logger.Infof("Received signal %v, executing service command: %s", received, command)

	result, err := s.controller.Execute(command)
	if err != nil || !result.Succeeded() {
		if err != nil {
			s.logger.Errorf("Service command %s failed: %v", command, err)
		} else {
			s.logger.Errorf("Service command %s failed, exit code: %d, stderr: %s",
				command, result.ExitCode, result.Stderr)
		}

		s.controller.Kill()

		if command == control.CommandRestart {
			s.logger.Infof("Attempting fresh service start after failed restart")
			if _, startErr := s.controller.Execute(control.CommandStart); startErr != nil {
				s.logger.Errorf("Fresh service start failed: %v", startErr)
			}
		}
	}

	if command == control.CommandStop {
		s.logger.Infof("Service stopped on request, shutting down")
		s.exit(0)
	}
}

// handleFailure consumes the monitor's relayed failure and shuts the
// process down, killing the managed service first so it is never left
// running unsupervised.
func (s *Supervisor) handleFailure() {
	failure := s.relay.Consume()

	s.controller.Kill()

	if failure.Type == errors.ErrorTypeUnknown {
		s.logger.Errorf("Monitor failed with unclassified error: %v\n%s", failure, failure.Stack)
	} else {
		s.logger.Errorf("Monitor failed, kind: %s, message: %s", failure.Type, failure.Message)
	}

	s.logger.Infof("Shutting down after fatal monitor failure")
	s.exit(1)
}
