package host

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Joe-Degs/svcrt/internal/trap"
)

func TestRecorderKeepsStoredLine(t *testing.T) {
	m := newMemory(t)
	rec := NewRecorder("0123456789", "ok")

	require.NoError(t, rec.HandleTrap(newCall(t, m, trap.TRAP_GETS, 32, 4)))
	require.NoError(t, rec.HandleTrap(newCall(t, m, trap.TRAP_GETS, 64, 8)))

	require.Equal(t, []byte("012"), rec.Calls[0].Text)
	require.Equal(t, []byte("ok"), rec.Calls[1].Text)
	s, ok, err := m.ReadCString(32, 4)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec.Calls[0].Text, s)
}

func TestRecorderEmptyBuffer(t *testing.T) {
	rec := NewRecorder("x")
	err := rec.HandleTrap(newCall(t, newMemory(t), trap.TRAP_GETS, 0, 0))
	require.ErrorIs(t, err, trap.ErrEmptyBuffer)
	require.Nil(t, rec.Calls[0].Text)
}
