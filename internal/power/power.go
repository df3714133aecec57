// Package power switches the device off when the display goes to sleep.
package power

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	appLog "paperpiper/internal/log"
)

const runTimeout = 10 * time.Second

// Command runs an external program to power off. It implements
// orchestrator.Power.
type Command struct {
	argv []string
	run  func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// New returns a Command for argv. An empty argv or "none" only logs.
func New(argv []string) *Command {
	return &Command{argv: argv, run: runExec}
}

func runExec(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Disabled reports whether PowerOff only logs.
func (c *Command) Disabled() bool {
	return len(c.argv) == 0 || c.argv[0] == "" || c.argv[0] == "none"
}

// PowerOff runs the command.
func (c *Command) PowerOff() error {
	if c.Disabled() {
		appLog.Info("power off requested, no command configured")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	appLog.Info("powering off", "command", strings.Join(c.argv, " "))
	out, err := c.run(ctx, c.argv[0], c.argv[1:]...)
	if err != nil {
		return fmt.Errorf("power: %s: %w (%s)", c.argv[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}
