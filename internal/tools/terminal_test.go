package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTerminalExecAllowsWhitelisted(t *testing.T) {
	term := &Terminal{
		Allowed:        []string{"echo"},
		Denied:         []string{"rm"},
		Timeout:        2 * time.Second,
		AllowExecution: true,
	}

	res, err := term.Exec(context.Background(), "echo", "hi")
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Equal(t, "hi\n", res.Stdout)
}

func TestTerminalExecRejectsOutsideAllowlist(t *testing.T) {
	term := &Terminal{
		Allowed:        []string{"echo"},
		AllowExecution: true,
	}
	_, err := term.Exec(context.Background(), "cat", "/etc/hosts")
	require.ErrorContains(t, err, "not in allowlist")
}

func TestTerminalExecDeniedCaseInsensitive(t *testing.T) {
	term := &Terminal{
		Denied:         []string{"rm"},
		AllowExecution: true,
	}
	_, err := term.Exec(context.Background(), "RM", "-rf", "/")
	require.ErrorContains(t, err, "is denied")
}

func TestTerminalExecDisabled(t *testing.T) {
	term := &Terminal{AllowExecution: false}
	_, err := term.Exec(context.Background(), "echo", "hi")
	require.ErrorContains(t, err, "execution disabled")
}

func TestTerminalExecRequiresCommand(t *testing.T) {
	term := &Terminal{AllowExecution: true}
	_, err := term.Exec(context.Background(), "")
	require.ErrorContains(t, err, "command is required")
}

func TestTerminalExecCapturesNonZeroExit(t *testing.T) {
	term := &Terminal{
		AllowExecution: true,
		Timeout:        2 * time.Second,
	}
	res, err := term.Exec(context.Background(), "sh", "-c", "echo oops >&2; exit 3")
	require.Error(t, err)
	require.Equal(t, 3, res.ExitCode)
	require.Contains(t, res.Stderr, "oops")
}

func TestTerminalExecTimesOut(t *testing.T) {
	term := &Terminal{
		AllowExecution: true,
		Timeout:        100 * time.Millisecond,
	}
	start := time.Now()
	_, err := term.Exec(context.Background(), "sleep", "5")
	require.Error(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestTerminalExecStreamEmitsLines(t *testing.T) {
	term := &Terminal{
		AllowExecution: true,
		Timeout:        5 * time.Second,
	}

	var lines []string
	res, err := term.ExecStream(context.Background(), func(line string) {
		lines = append(lines, line)
	}, "sh", "-c", "echo one; echo two")
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Equal(t, []string{"one", "two"}, lines)
	require.Equal(t, "one\ntwo\n", res.Stdout)
}
