// Package discovery resolves the default forwarding destination when none is configured.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strings"

	"fleet-log-router/internal/logger"
	"fleet-log-router/internal/routing/domain"
)

// maxStderr is how many bytes of the command's stderr are kept in a failure.
const maxStderr = 200

// DefaultCommand prints the URL of the organisation's API server on stdout.
const DefaultCommand = "puavo-resolve-api-server"

// AddressResolver produces a non-empty hostname for the forward target.
type AddressResolver interface {
	Resolve(ctx context.Context) (string, error)
}

// CommandResolver runs an external command with no arguments and takes the host of the URL it prints.
type CommandResolver struct {
	command string
	log     logger.Logger
}

// NewCommandResolver returns a resolver for command; empty selects DefaultCommand.
func NewCommandResolver(command string, log logger.Logger) *CommandResolver {
	if command == "" {
		command = DefaultCommand
	}
	return &CommandResolver{command: command, log: log.WithComponent("discovery")}
}

// Resolve runs the command and parses its output. Every failure wraps domain.ErrConfig.
func (r *CommandResolver) Resolve(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, r.command).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := fmt.Sprintf("%s exited with status %d", r.command, exitErr.ExitCode())
			if stderr := stderrSummary(exitErr.Stderr); stderr != "" {
				msg += ": " + stderr
			}
			return "", fmt.Errorf("%w: %s", domain.ErrConfig, msg)
		}
		return "", fmt.Errorf("%w: failed to execute %s: %w", domain.ErrConfig, r.command, err)
	}
	host, err := ParseHost(string(out))
	if err != nil {
		return "", fmt.Errorf("%s: %w", r.command, err)
	}
	r.log.Info().Str("host", host).Msg("forwarding host resolved")
	return host, nil
}

// stderrSummary flattens b onto one line and cuts it to maxStderr bytes.
func stderrSummary(b []byte) string {
	s := strings.Join(strings.Fields(string(b)), " ")
	if len(s) > maxStderr {
		s = strings.ToValidUTF8(s[:maxStderr], "") + "..."
	}
	return s
}

// ParseHost extracts the host component of a URI such as "http://chalk.example.org:1234/status".
func ParseHost(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty discovery response", domain.ErrConfig)
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: unparsable discovery response %q: %w", domain.ErrConfig, s, err)
	}
	host := strings.TrimSpace(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: no host in discovery response %q", domain.ErrConfig, s)
	}
	return host, nil
}

// StaticResolver always returns Host. Used when the host is known ahead of time.
type StaticResolver struct {
	Host string
}

func (s StaticResolver) Resolve(context.Context) (string, error) {
	if strings.TrimSpace(s.Host) == "" {
		return "", fmt.Errorf("%w: static forward host is empty", domain.ErrConfig)
	}
	return s.Host, nil
}
