package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rc/internal/rcpath"
)

func newTestStore(t *testing.T) *Store {
	cfg := rcpath.Default()
	cfg.StateDir = t.TempDir()
	return New(cfg)
}

func TestGetState_DefaultsToStopped(t *testing.T) {
	s := newTestStore(t)
	st, err := s.GetState("sshd")
	require.NoError(t, err)
	require.Equal(t, Stopped, st.Primary)
}

func TestMark_PrimaryIsExclusive(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Mark("sshd", string(Starting)))
	require.NoError(t, s.Mark("sshd", string(Started)))

	st, err := s.GetState("sshd")
	require.NoError(t, err)
	require.Equal(t, Started, st.Primary)
	require.False(t, rcpath.MarkerExists(s.StatePath(string(Starting), "sshd")))
}

func TestMark_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Mark("sshd", string(Started)))
	require.NoError(t, s.Mark("sshd", string(Started)))

	st, err := s.GetState("sshd")
	require.NoError(t, err)
	require.Equal(t, Started, st.Primary)
}

func TestMark_Flag_CoexistsWithPrimary(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Mark("sshd", string(Stopped)))
	require.NoError(t, s.Mark("sshd", string(FlagFailed)))

	st, err := s.GetState("sshd")
	require.NoError(t, err)
	require.Equal(t, Stopped, st.Primary)
	require.True(t, st.Has(FlagFailed))

	names, err := s.ServicesInState(string(Stopped))
	require.NoError(t, err)
	require.Contains(t, names, "sshd")

	names, err = s.ServicesInState(string(FlagFailed))
	require.NoError(t, err)
	require.Contains(t, names, "sshd")
}

func TestMark_Started_ClearsScheduledFailedWasInactive(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Mark("sshd", string(FlagScheduled)))
	require.NoError(t, s.Mark("sshd", string(FlagFailed)))
	require.NoError(t, s.Mark("sshd", string(FlagWasInactive)))
	require.NoError(t, s.Mark("sshd", string(FlagColdplugged)))

	require.NoError(t, s.Mark("sshd", string(Started)))

	st, err := s.GetState("sshd")
	require.NoError(t, err)
	require.False(t, st.Has(FlagScheduled))
	require.False(t, st.Has(FlagFailed))
	require.False(t, st.Has(FlagWasInactive))
	require.True(t, st.Has(FlagColdplugged), "coldplugged is not cleared by a start transition")
}

func TestWaitFor_ShortCircuitsWhenAlreadySettled(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Mark("sshd", string(Started)))

	start := time.Now()
	settled, err := s.WaitFor(context.Background(), "sshd", WaitOptions{Timeout: time.Second})
	require.NoError(t, err)
	require.True(t, settled)
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestWaitFor_TimesOutWithoutError(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Mark("sshd", string(Starting)))

	settled, err := s.WaitFor(context.Background(), "sshd", WaitOptions{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Timeout:        30 * time.Millisecond,
	})
	require.NoError(t, err)
	require.False(t, settled)
}

func TestWaitFor_SettlesOnceMarkerChanges(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Mark("sshd", string(Starting)))

	go func() {
		time.Sleep(15 * time.Millisecond)
		_ = s.Mark("sshd", string(Started))
	}()

	settled, err := s.WaitFor(context.Background(), "sshd", WaitOptions{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Timeout:        time.Second,
	})
	require.NoError(t, err)
	require.True(t, settled)
}
