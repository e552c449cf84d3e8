package deptree

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"rc/internal/rcerr"
	"rc/pkg/logging"
)

// depend mode passes the collecting pipe to the child as its first extra
// file descriptor (fd 3, right after stdin/stdout/stderr), and tells the
// script which fd that is and which service it is describing via
// environment variables. A script's sourced metadata primitives (need, use,
// want, after, before, provide, keyword) are expected to write one line of
// "type:peer" per call to that fd; the service name itself is supplied by
// rc, not the script, so a misbehaving script cannot spoof another
// service's lines.
const (
	envDependFD    = "RC_DEPEND_FD"
	envServiceName = "RC_SVCNAME"
	dependTimeout  = 5 * time.Second
)

// ParseScript runs path with verb "depend" in the sandboxed metadata mode
// and returns the relation lines it declared.
func ParseScript(ctx context.Context, path, serviceName string) (map[RelationType][]string, error) {
	ctx, cancel := context.WithTimeout(ctx, dependTimeout)
	defer cancel()

	readEnd, writeEnd, err := os.Pipe()
	if err != nil {
		return nil, rcerr.Fatal(serviceName, err)
	}
	defer readEnd.Close()

	cmd := exec.CommandContext(ctx, path, "depend")
	cmd.ExtraFiles = []*os.File{writeEnd}
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=3", envDependFD),
		fmt.Sprintf("%s=%s", envServiceName, serviceName),
	)

	if err := cmd.Start(); err != nil {
		writeEnd.Close()
		return nil, rcerr.Configuration(serviceName, err)
	}
	writeEnd.Close()

	lines := make(map[RelationType][]string)
	scanner := bufio.NewScanner(readEnd)
	for scanner.Scan() {
		relation, peer, ok := parseDependLine(scanner.Text())
		if !ok {
			logging.Warn("DepTree", "%s: ignoring malformed depend line %q", serviceName, scanner.Text())
			continue
		}
		lines[relation] = appendUnique(lines[relation], peer)
	}

	if err := cmd.Wait(); err != nil {
		return nil, rcerr.Configuration(serviceName, fmt.Errorf("depend mode failed: %w", err))
	}

	return lines, nil
}

// parseDependLine parses a "type:peer" line written by the script's
// metadata primitives to the collecting pipe.
func parseDependLine(line string) (RelationType, string, bool) {
	parts := strings.SplitN(line, ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	relation := RelationType(strings.TrimSpace(parts[0]))
	peer := strings.TrimSpace(parts[1])
	if peer == "" {
		return "", "", false
	}
	switch relation {
	case Need, Use, Want, After, Before, Provide, Keyword, Config:
		return relation, peer, true
	default:
		return "", "", false
	}
}
