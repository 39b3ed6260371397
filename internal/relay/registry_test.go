package relay

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zudduz/cscratch-dg/internal/platform"
	"github.com/zudduz/cscratch-dg/internal/types"
)

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry()

	spec, err := r.Lookup("balance")
	require.NoError(t, err)
	assert.Equal(t, "balance", spec.Name)
	assert.Equal(t, VisibilityEphemeral, spec.Visibility)

	spec, err = r.Lookup("start")
	require.NoError(t, err)
	assert.Equal(t, VisibilityPublic, spec.Visibility)
	require.Len(t, spec.Params, 1)
	assert.Equal(t, "cartridge", spec.Params[0].Name)
	assert.Equal(t, "foster-protocol", spec.Params[0].Default)
}

func TestRegistry_LookupUnknown(t *testing.T) {
	r := NewRegistry()

	_, err := r.Lookup("jackpot")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUnknownCommand, appErr.Code)
}

func TestRegistry_ComponentVisibility(t *testing.T) {
	r := NewRegistry()

	assert.Equal(t, VisibilityEphemeral, r.ComponentVisibility("start_btn"))
	assert.Equal(t, VisibilityPublic, r.ComponentVisibility("roll_again"))
	assert.Equal(t, VisibilityPublic, r.ComponentVisibility(""))
}

func TestRegistry_PlatformCommands(t *testing.T) {
	cmds := NewRegistry().PlatformCommands()

	require.Len(t, cmds, 1)
	top := cmds[0]
	assert.Equal(t, "cscratch", top.Name)

	names := make([]string, 0, len(top.Options))
	for _, sub := range top.Options {
		assert.Equal(t, platform.OptionTypeSubCommand, sub.Type)
		assert.NotEmpty(t, sub.Description)
		names = append(names, sub.Name)
	}
	assert.Equal(t, []string{"start", "end", "balance", "guide", "manual"}, names)

	// The start subcommand declares its cartridge argument.
	start := top.Options[0]
	require.Len(t, start.Options, 1)
	assert.Equal(t, "cartridge", start.Options[0].Name)
	assert.Equal(t, platform.OptionTypeString, start.Options[0].Type)
	assert.False(t, start.Options[0].Required)
}
