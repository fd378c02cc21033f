// internal/action/dispatcher.go
// Package action runs the user-configured trigger command.
package action

import (
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Dispatcher launches the configured command when the trigger fires. The
// launch is asynchronous and at most one command runs at a time, so the
// audio path never blocks on process startup.
type Dispatcher struct {
	argv []string
	log  *zap.Logger

	mu      sync.Mutex
	running bool

	// run is swapped out in tests
	run func(argv []string) error
}

// New creates a dispatcher for the given command line. An empty command
// yields a no-op dispatcher.
func New(command string, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		argv: strings.Fields(command),
		log:  log,
		run:  runCommand,
	}
}

// Enabled reports whether a command is configured
func (d *Dispatcher) Enabled() bool {
	return len(d.argv) > 0
}

// Dispatch launches the command in the background. Returns immediately;
// if a previous launch is still running the call is dropped (the trigger
// is already debounced by the state machine's cooldown).
func (d *Dispatcher) Dispatch() {
	d.mu.Lock()
	if d.running || len(d.argv) == 0 {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	go func() {
		err := d.run(d.argv)
		if err != nil {
			d.log.Warn("trigger command failed",
				zap.String("command", strings.Join(d.argv, " ")),
				zap.Error(err))
		} else {
			d.log.Info("trigger command completed",
				zap.String("command", strings.Join(d.argv, " ")))
		}

		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()
}

func runCommand(argv []string) error {
	cmd := exec.Command(argv[0], argv[1:]...)
	return cmd.Run()
}
