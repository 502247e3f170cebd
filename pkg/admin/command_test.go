package admin_test

import (
	"testing"

	"github.com/jihwankim/tiermemctl/pkg/admin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLineBind(t *testing.T) {
	cmd, err := admin.ParseLine("bind 1234")
	require.NoError(t, err)
	assert.Equal(t, admin.KindBind, cmd.Kind)
	assert.Equal(t, int32(1234), cmd.Pid)
}

func TestParseLineBindRejectsNonPositivePid(t *testing.T) {
	_, err := admin.ParseLine("bind -1")
	assert.Error(t, err)
	_, err = admin.ParseLine("bind 0")
	assert.Error(t, err)
}

func TestParseLineSendDram(t *testing.T) {
	cmd, err := admin.ParseLine("send 512 dram")
	require.NoError(t, err)
	assert.Equal(t, admin.KindSend, cmd.Kind)
	assert.Equal(t, 512, cmd.N)
	assert.Equal(t, admin.SendDRAM, cmd.Dest)
}

func TestParseLineSendRejectsUnknownDest(t *testing.T) {
	_, err := admin.ParseLine("send 512 bogus")
	assert.Error(t, err)
}

func TestParseLineSwitch(t *testing.T) {
	cmd, err := admin.ParseLine("switch 64")
	require.NoError(t, err)
	assert.Equal(t, admin.KindSwitch, cmd.Kind)
	assert.Equal(t, 64, cmd.N)
}

func TestParseLineToggleAll(t *testing.T) {
	cmd, err := admin.ParseLine("toggle all")
	require.NoError(t, err)
	assert.Equal(t, admin.KindToggle, cmd.Kind)
	assert.Equal(t, admin.ToggleAll, cmd.Toggle)
}

func TestParseLineClearAndClr(t *testing.T) {
	cmd, err := admin.ParseLine("clear")
	require.NoError(t, err)
	assert.Equal(t, admin.KindClear, cmd.Kind)

	cmd, err = admin.ParseLine("clr")
	require.NoError(t, err)
	assert.Equal(t, admin.KindClear, cmd.Kind)
}

func TestParseLineExit(t *testing.T) {
	cmd, err := admin.ParseLine("exit")
	require.NoError(t, err)
	assert.Equal(t, admin.KindExit, cmd.Kind)
}

func TestParseLineUnknownCommand(t *testing.T) {
	_, err := admin.ParseLine("frobnicate")
	assert.Error(t, err)
}

func TestParseLineEmpty(t *testing.T) {
	_, err := admin.ParseLine("")
	assert.Error(t, err)
}
