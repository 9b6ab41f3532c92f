package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/kinegraphx/orchestrator/internal/channel"
)

// SendInterrupt asks the remote command started with RunCommand to stop.
// It signals the command's own session, then detects the remote OS family
// and kills the process located by its pid (background launch) or by the
// configured command line pattern.
//
// Locating the process is heuristic. Every failing step is reported to ch
// and returned, but never retried: the caller is expected to proceed with
// disconnecting regardless.
func (s *Session) SendInterrupt(ctx context.Context, ch *channel.Channel) error {
	ch.Put("sending interrupt to the remote command")

	s.mu.Lock()
	client := s.client
	cmd := s.command
	s.mu.Unlock()

	if client == nil {
		ch.Put("interrupt skipped: not connected")
		return ErrNotConnected
	}

	if cmd == nil || !cmd.running() {
		ch.Put("interrupt skipped: no remote command running")
		return nil
	}

	if timeout := s.config.Interrupt.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	signal := normalizeSignal(s.config.Interrupt.Signal)

	// servers honouring the signal request stop the command right away,
	// others silently ignore it
	if err := cmd.signal(ssh.Signal(signal)); err != nil {
		s.log.Debug("in-band signal failed", zap.Error(err))
	}

	family, err := s.detectOS(ctx, client)
	if err != nil {
		ch.Putf("interrupt failed: %v", err)
		return err
	}

	kill := killCommand(family, signal, cmd.Pid(), s.config.Interrupt.Pattern)
	if kill == "" {
		ch.Putf("interrupt failed: %v", ErrNoInterruptTarget)
		return ErrNoInterruptTarget
	}

	s.log.Debug("sending interrupt",
		zap.String("os", string(family)),
		zap.String("command", kill),
	)

	out, err := output(ctx, client, kill)

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitStatus() == 1 {
		// pkill and kill report 1 if nothing matched
		ch.Put("interrupt: no matching remote process found")
		return nil
	}

	if err != nil {
		ch.Putf("interrupt failed: %v", err)
		return fmt.Errorf("failed to interrupt remote command: %w", err)
	}

	if out = strings.TrimSpace(out); out != "" {
		ch.Put(out)
	}

	ch.Putf("interrupt sent to the remote %s process", family)

	return nil
}

// detectOS probes the remote host with a trivial command. The result is
// cached for the lifetime of the session.
func (s *Session) detectOS(ctx context.Context, client *ssh.Client) (OSFamily, error) {
	s.mu.Lock()
	family := s.family
	s.mu.Unlock()

	if family != "" {
		return family, nil
	}

	family, err := probeOS(ctx, client)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.family = family
	s.mu.Unlock()

	return family, nil
}

func probeOS(ctx context.Context, client *ssh.Client) (OSFamily, error) {
	out, err := output(ctx, client, "uname -s")
	if err == nil && strings.TrimSpace(out) != "" {
		return OSPosix, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", fmt.Errorf("%w: %v", ErrUnknownOS, ctxErr)
	}

	out, err = output(ctx, client, "ver")
	if err == nil && strings.Contains(strings.ToLower(out), "windows") {
		return OSWindows, nil
	}

	return "", ErrUnknownOS
}

// killCommand builds the command killing the remote process. A known pid
// takes precedence over the pattern. Returns "" if neither is available.
func killCommand(family OSFamily, signal string, pid int, pattern string) string {
	switch family {
	case OSWindows:
		if pid > 0 {
			return fmt.Sprintf("taskkill /PID %d /T /F", pid)
		}
		if pattern != "" {
			return fmt.Sprintf(
				`wmic process where "CommandLine like '%%%s%%' and not CommandLine like '%%wmic%%'" call terminate`,
				strings.ReplaceAll(pattern, `"`, ``),
			)
		}
	default:
		if pid > 0 {
			// asynchronous jobs of a non-interactive shell ignore SIGINT
			if signal == "INT" {
				signal = "TERM"
			}
			return fmt.Sprintf("pkill -%[1]s -P %[2]d; kill -%[1]s %[2]d", signal, pid)
		}
		if pattern != "" {
			return fmt.Sprintf("pkill -%s -f %s", signal, shellQuote(selfExcluding(pattern)))
		}
	}

	return ""
}

// selfExcluding rewrites pattern so that it does not match the command
// line of the shell running pkill, e.g. "python3" becomes "[p]ython3".
func selfExcluding(pattern string) string {
	if pattern == "" || !isAlnum(pattern[0]) {
		return pattern
	}

	return "[" + pattern[:1] + "]" + pattern[1:]
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func normalizeSignal(signal string) string {
	signal = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(signal)), "SIG")
	if signal == "" {
		return "INT"
	}

	return signal
}
