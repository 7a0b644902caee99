package control

import (
	goerrors "errors"
	"os"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/bbockelm/StashCache/pkg/config"
	"github.com/bbockelm/StashCache/pkg/errors"
	"github.com/bbockelm/StashCache/pkg/logging"
)

// Command is a lifecycle command executed against the managed service.
type Command string

const (
	CommandStart   Command = "start"
	CommandStop    Command = "stop"
	CommandRestart Command = "restart"
	CommandStatus  Command = "status"
)

// Mechanism is the service-control mechanism selected at resolution time.
type Mechanism string

const (
	MechanismSystemd  Mechanism = "systemd"
	MechanismSysvinit Mechanism = "sysvinit"
)

// Unit is the resolved identity of the managed OS-level service.
// Resolved once per process lifetime; compared structurally, never by
// pointer identity.
type Unit struct {
	Mechanism Mechanism
	Name      string
	Variant   string
}

// Result is the outcome of a single lifecycle command. Non-zero exit is
// not an error here; the caller interprets the outcome.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

func (r Result) Succeeded() bool {
	return r.ExitCode == 0
}

// PIDUnknown is returned by ServicePID when the status output carries no
// recognizable pid token.
const PIDUnknown = "unknown"

// matches "pid: 4821", "PID(4821)", "Main PID: 4821 (xrootd)"
var pidPattern = regexp.MustCompile(`(?i)pid[^\d]*(\d+)`)

// Controller executes lifecycle commands against the managed service,
// auto-selecting the control mechanism and unit identity on first use.
type Controller struct {
	service config.ServiceConfig
	runner  Runner
	exists  func(path string) bool
	kill    func(pid int) error
	logger  logging.Logger

	unit *Unit // nil until resolution succeeds
}

func NewController(service config.ServiceConfig, logger logging.Logger) *Controller {
	return NewControllerWithRunner(service, NewExecRunner(), logger)
}

// NewControllerWithRunner allows injecting the subprocess runner, used by
// tests to fake command execution.
func NewControllerWithRunner(service config.ServiceConfig, runner Runner, logger logging.Logger) *Controller {
	return &Controller{
		service: service,
		runner:  runner,
		exists:  fileExists,
		kill:    killProcess,
		logger:  logger,
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// resolve selects the control mechanism and unit identity. The selection
// is cached on success; a failed resolution leaves the controller
// unresolved so a later call probes the candidate paths again.
func (c *Controller) resolve() (*Unit, error) {
	if c.unit != nil {
		return c.unit, nil
	}

	_, _, _, err := c.runner.Run("systemctl", "--version")
	if err != nil {
		if goerrors.Is(err, exec.ErrNotFound) {
			// Tool absent: fall back to the legacy init-script name.
			c.logger.Infof("systemctl not found, falling back to legacy service name: %s", c.service.BaseName)
			c.unit = &Unit{
				Mechanism: MechanismSysvinit,
				Name:      c.service.BaseName,
			}
			return c.unit, nil
		}
		// Tool present but erroring; it still owns service control.
		c.logger.Warnf("systemctl version probe failed: %v", err)
	}

	for _, variant := range c.service.Variants {
		if c.exists(variant.ConfigPath) {
			c.logger.Infof("Resolved service variant: %s, unit: %s", variant.Name, variant.Unit)
			c.unit = &Unit{
				Mechanism: MechanismSystemd,
				Name:      variant.Unit,
				Variant:   variant.Name,
			}
			return c.unit, nil
		}
	}

	return nil, errors.NewControllerError("missing variant configuration", nil).
		WithContext("candidates", len(c.service.Variants))
}

// Unit returns the resolved unit identity, resolving it if necessary.
func (c *Controller) Unit() (Unit, error) {
	unit, err := c.resolve()
	if err != nil {
		return Unit{}, err
	}
	return *unit, nil
}

// Execute runs a lifecycle command against the managed service. The
// subprocess outcome, including non-zero exit, is reported in the Result;
// an error is returned only when the command could not run at all.
func (c *Controller) Execute(command Command) (Result, error) {
	unit, err := c.resolve()
	if err != nil {
		return Result{}, err
	}

	var name string
	var args []string
	switch unit.Mechanism {
	case MechanismSystemd:
		name = "systemctl"
		args = []string{string(command), unit.Name}
	default:
		name = "service"
		args = []string{unit.Name, string(command)}
	}

	c.logger.Debugf("Executing service command: %s %v", name, args)

	stdout, stderr, exitCode, err := c.runner.Run(name, args...)
	if err != nil {
		return Result{}, errors.NewControllerError("failed to invoke service control command", err).
			WithContext("command", string(command)).
			WithContext("unit", unit.Name)
	}

	c.logger.Infof("Service command finished: %s %s, exit code: %d", unit.Name, command, exitCode)

	return Result{
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
	}, nil
}

// ServicePID extracts the managed service's process id from the status
// command's combined output. A missing pid token is a soft failure,
// reported as the PIDUnknown sentinel.
func (c *Controller) ServicePID() string {
	result, err := c.Execute(CommandStatus)
	if err != nil {
		c.logger.Errorf("Status command failed while looking up service pid: %v", err)
		return PIDUnknown
	}

	match := pidPattern.FindStringSubmatch(result.Stdout + result.Stderr)
	if match == nil {
		c.logger.Errorf("No pid token found in status output, exit code: %d", result.ExitCode)
		return PIDUnknown
	}

	return match[1]
}

// Kill sends an immediate, non-catchable termination signal to the
// managed service's process. If the pid cannot be determined or the
// process is already gone, the service is considered stopped and Kill is
// a no-op.
func (c *Controller) Kill() {
	pid := c.ServicePID()
	if pid == PIDUnknown {
		return
	}

	n, err := strconv.Atoi(pid)
	if err != nil || n <= 0 {
		return
	}

	c.logger.Infof("Killing managed service, pid: %d", n)

	if err := c.kill(n); err != nil {
		// Process already finished between lookup and kill.
		c.logger.Debugf("Kill was a no-op, pid: %d, reason: %v", n, err)
	}
}
