package plugin

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakePlugin struct {
	hooks []string
	fail  bool
}

func (f *fakePlugin) Hook(event Event, name string) error {
	f.hooks = append(f.hooks, string(event)+":"+name)
	if f.fail {
		return errors.New("boom")
	}
	return nil
}

type fakeEnvPlugin struct {
	fakePlugin
	lines []string
}

func (f *fakeEnvPlugin) EnvLines() ([]string, error) {
	return f.lines, nil
}

func TestRegistry_FiresAllPluginsInOrder(t *testing.T) {
	a := &fakePlugin{}
	b := &fakePlugin{}
	r := NewRegistry(a, b)

	r.Fire(ServiceStartIn, "sshd")

	require.Equal(t, []string{"service_start_in:sshd"}, a.hooks)
	require.Equal(t, []string{"service_start_in:sshd"}, b.hooks)
}

func TestRegistry_FailingHookDoesNotStopOthers(t *testing.T) {
	a := &fakePlugin{fail: true}
	b := &fakePlugin{}
	r := NewRegistry(a, b)

	r.Fire(ServiceStartDone, "sshd")

	require.Equal(t, []string{"service_start_done:sshd"}, a.hooks)
	require.Equal(t, []string{"service_start_done:sshd"}, b.hooks)
}

func TestRegistry_EnvLinesCollectsFromContributors(t *testing.T) {
	plain := &fakePlugin{}
	withEnv := &fakeEnvPlugin{lines: []string{"FOO=bar", "BAZ=qux"}}
	r := NewRegistry(plain, withEnv)

	lines := r.EnvLines()
	require.Equal(t, []string{"FOO=bar", "BAZ=qux"}, lines)
}

func TestSplitNUL_TokenizesOnNulBytes(t *testing.T) {
	data := []byte("FOO=bar\x00BAZ=qux\x00")
	advance, token, err := splitNUL(data, false)
	require.NoError(t, err)
	require.Equal(t, "FOO=bar", string(token))
	require.Equal(t, 8, advance)
}
