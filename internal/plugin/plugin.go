// Package plugin defines the hook ABI of spec §6: a single entry
// hook(event, name) -> 0 | -1, fired at well-defined points in a runlevel
// or service transition, plus the environment-variable contribution
// channel. Dynamic loading itself is out of scope (spec §1); this package
// is the contract a loader (in-process, or external process) satisfies.
package plugin

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"rc/pkg/logging"
)

// Event is one point in the ordered sequence of spec §6: pairs bracket a
// runlevel transition, triples/quadruples bracket a single service's.
type Event string

const (
	RunlevelStopIn   Event = "runlevel_stop_in"
	RunlevelStopOut  Event = "runlevel_stop_out"
	RunlevelStartIn  Event = "runlevel_start_in"
	RunlevelStartOut Event = "runlevel_start_out"

	ServiceStopIn   Event = "service_stop_in"
	ServiceStopOut  Event = "service_stop_out"
	ServiceStartIn  Event = "service_start_in"
	ServiceStartNow Event = "service_start_now"

	ServiceStartDone Event = "service_start_done"
	ServiceStartOut  Event = "service_start_out"
)

// Plugin is the in-process hook contract. A nil error is hook return 0; any
// error is -1, which is logged by Registry and otherwise ignored (spec §6:
// "-1 from a hook is logged and otherwise ignored").
type Plugin interface {
	Hook(event Event, name string) error
}

// EnvContributor is the optional second half of the ABI: a plugin may
// contribute KEY=VALUE environment entries for subsequently spawned
// scripts.
type EnvContributor interface {
	EnvLines() ([]string, error)
}

// Registry fires hooks across a fixed set of plugins in registration
// order.
type Registry struct {
	plugins []Plugin
}

// NewRegistry returns a Registry over plugins.
func NewRegistry(plugins ...Plugin) *Registry {
	return &Registry{plugins: plugins}
}

// Fire invokes event on every registered plugin. A -1 (non-nil error) is
// logged and does not stop remaining plugins or the caller.
func (r *Registry) Fire(event Event, name string) {
	for _, p := range r.plugins {
		if err := p.Hook(event, name); err != nil {
			logging.Warn("Plugin", "hook %s(%s) returned -1: %v", event, name, err)
		}
	}
}

// EnvLines collects KEY=VALUE contributions from every plugin implementing
// EnvContributor, in registration order. A plugin whose contribution fails
// is logged and skipped; it does not block the others.
func (r *Registry) EnvLines() []string {
	var lines []string
	for _, p := range r.plugins {
		ec, ok := p.(EnvContributor)
		if !ok {
			continue
		}
		l, err := ec.EnvLines()
		if err != nil {
			logging.Warn("Plugin", "env contribution failed: %v", err)
			continue
		}
		lines = append(lines, l...)
	}
	return lines
}

// ProcessPlugin adapts an external executable to the Plugin/EnvContributor
// contract: hook(event, name) is "path event name", exit 0 or non-zero;
// environment contribution sources the same collecting-pipe trick as
// internal/deptree's depend-mode parser, reading NUL-terminated
// "KEY=VALUE" lines off fd 3.
type ProcessPlugin struct {
	Path    string
	Timeout time.Duration
}

const envFD = "RC_ENVIRON_FD"

func (p *ProcessPlugin) hookTimeout() time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return 5 * time.Second
}

// Hook runs the plugin executable with (event, name) as arguments.
func (p *ProcessPlugin) Hook(event Event, name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.hookTimeout())
	defer cancel()

	cmd := exec.CommandContext(ctx, p.Path, string(event), name)
	return cmd.Run()
}

// EnvLines runs the plugin in "environ" mode and collects its
// KEY=VALUE\0 contributions from the well-known pipe fd.
func (p *ProcessPlugin) EnvLines() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.hookTimeout())
	defer cancel()

	readEnd, writeEnd, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	defer readEnd.Close()

	cmd := exec.CommandContext(ctx, p.Path, "environ")
	cmd.ExtraFiles = []*os.File{writeEnd}
	cmd.Env = append(os.Environ(), envFD+"=3")

	if err := cmd.Start(); err != nil {
		writeEnd.Close()
		return nil, err
	}
	writeEnd.Close()

	var lines []string
	scanner := bufio.NewScanner(readEnd)
	scanner.Split(splitNUL)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.Contains(line, "=") {
			logging.Warn("Plugin", "%s: ignoring malformed env contribution %q", p.Path, line)
			continue
		}
		lines = append(lines, line)
	}

	if err := cmd.Wait(); err != nil {
		return nil, err
	}
	return lines, nil
}

// splitNUL is a bufio.SplitFunc that tokenizes on NUL bytes instead of
// newlines, matching the plugin ABI's "KEY=VALUE\0" framing.
func splitNUL(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == 0 {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
