package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type namedTool struct {
	name string
}

func (t *namedTool) Name() string   { return t.name }
func (t *namedTool) Schema() Schema { return Schema{Name: t.name} }
func (t *namedTool) Execute(context.Context, map[string]any) (string, error) {
	return t.name + " output", nil
}

func TestResolveExactNameWins(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(&namedTool{name: "read_file"})
	reg.Register(&namedTool{name: "read"})

	_, resolved, err := Resolve(reg, "read")
	require.NoError(t, err)
	require.Equal(t, "read", resolved)
}

func TestResolveAliasFallback(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(&namedTool{name: "read_file"})

	_, resolved, err := Resolve(reg, "read")
	require.NoError(t, err)
	require.Equal(t, "read_file", resolved)
}

func TestResolveWriteAliasPrefersFirstAvailable(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(&namedTool{name: "write_file"})
	reg.Register(&namedTool{name: "write_files"})

	_, resolved, err := Resolve(reg, "write")
	require.NoError(t, err)
	require.Equal(t, "write_file", resolved)

	only := NewRegistry()
	only.Register(&namedTool{name: "write_files"})
	_, resolved, err = Resolve(only, "write")
	require.NoError(t, err)
	require.Equal(t, "write_files", resolved)
}

func TestResolveMissIsHardFailure(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(&namedTool{name: "read_file"})

	_, _, err := Resolve(reg, "teleport")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrToolNotFound))

	_, _, err = Resolve(reg, "")
	require.True(t, errors.Is(err, ErrToolNotFound))
}
