package metadata

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rc/internal/rcpath"
)

type fakeQuerier struct {
	live map[string][]int // keyed by Exec
}

func (f *fakeQuerier) LivePIDs(record DaemonRecord) ([]int, error) {
	return f.live[record.Exec], nil
}

func newTestStore(t *testing.T, q ProcessQuerier) *Store {
	cfg := rcpath.Default()
	cfg.OptionsDir = t.TempDir()
	cfg.DaemonsDir = t.TempDir()
	return New(cfg, q)
}

func TestOption_RoundTrip(t *testing.T) {
	s := newTestStore(t, nil)

	_, ok, err := s.GetOption("sshd", "timeout")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SetOption("sshd", "timeout", "30"))
	val, ok, err := s.GetOption("sshd", "timeout")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "30", val)

	keys, err := s.Options("sshd")
	require.NoError(t, err)
	require.Equal(t, []string{"timeout"}, keys)
}

func TestDaemon_AddRemoveRoundTrip(t *testing.T) {
	s := newTestStore(t, nil)

	rec := DaemonRecord{Exec: "/usr/sbin/sshd", PIDFile: "/run/sshd.pid"}
	idx, err := s.AddDaemon("sshd", rec)
	require.NoError(t, err)
	require.Equal(t, 1, idx)

	rec2 := DaemonRecord{Exec: "/usr/sbin/sshd-helper"}
	idx2, err := s.AddDaemon("sshd", rec2)
	require.NoError(t, err)
	require.Equal(t, 2, idx2)

	records, err := s.Daemons("sshd")
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.NoError(t, s.RemoveDaemon("sshd", rec))
	records, err = s.Daemons("sshd")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, rec2.Exec, records[0].Exec)
}

func TestRemoveDaemon_NoMatchIsNotFound(t *testing.T) {
	s := newTestStore(t, nil)
	err := s.RemoveDaemon("sshd", DaemonRecord{Exec: "/bin/nope"})
	require.Error(t, err)
}

func TestClearDaemons_RemovesAllRecords(t *testing.T) {
	s := newTestStore(t, nil)
	_, err := s.AddDaemon("sshd", DaemonRecord{Exec: "/usr/sbin/sshd"})
	require.NoError(t, err)

	require.NoError(t, s.ClearDaemons("sshd"))

	records, err := s.Daemons("sshd")
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestCrashed_TrueWhenNoLivePIDsForAnyDaemon(t *testing.T) {
	q := &fakeQuerier{live: map[string][]int{}}
	s := newTestStore(t, q)
	_, err := s.AddDaemon("sshd", DaemonRecord{Exec: "/usr/sbin/sshd", PIDFile: "/run/sshd.pid"})
	require.NoError(t, err)

	crashed, err := s.Crashed("sshd")
	require.NoError(t, err)
	require.True(t, crashed)
}

func TestCrashed_FalseWhenDaemonIsLive(t *testing.T) {
	q := &fakeQuerier{live: map[string][]int{"/usr/sbin/sshd": {1234}}}
	s := newTestStore(t, q)
	_, err := s.AddDaemon("sshd", DaemonRecord{Exec: "/usr/sbin/sshd"})
	require.NoError(t, err)

	crashed, err := s.Crashed("sshd")
	require.NoError(t, err)
	require.False(t, crashed)
}

func TestCrashed_FalseWithNoRecordsOrQuerier(t *testing.T) {
	s := newTestStore(t, nil)
	crashed, err := s.Crashed("sshd")
	require.NoError(t, err)
	require.False(t, crashed)
}

func TestStartedDaemon_AnyIndexZero(t *testing.T) {
	q := &fakeQuerier{live: map[string][]int{"/usr/sbin/sshd": {1234}}}
	s := newTestStore(t, q)
	_, err := s.AddDaemon("sshd", DaemonRecord{Exec: "/usr/sbin/other"})
	require.NoError(t, err)
	_, err = s.AddDaemon("sshd", DaemonRecord{Exec: "/usr/sbin/sshd"})
	require.NoError(t, err)

	started, err := s.StartedDaemon("sshd", 0)
	require.NoError(t, err)
	require.True(t, started)
}
