package executer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExecute(t *testing.T) {
	t.Run("captures stdout", func(t *testing.T) {
		e := NewCommonExecuter()
		out, _, code := e.ExecuteWithContext(context.Background(), "echo", "hello")
		require.Equal(t, 0, code)
		require.Equal(t, "hello", out)
	})

	t.Run("nonzero exit code", func(t *testing.T) {
		e := NewCommonExecuter()
		_, _, code := e.ExecuteWithContext(context.Background(), "false")
		require.Equal(t, 1, code)
	})

	t.Run("missing binary", func(t *testing.T) {
		e := NewCommonExecuter()
		_, _, code := e.ExecuteWithContext(context.Background(), "definitely-not-a-binary-zzz")
		require.Equal(t, -1, code)
	})

	t.Run("extra env", func(t *testing.T) {
		e := NewCommonExecuter(WithEnv([]string{"BOOTWRIGHT_TEST_VAR=1"}))
		out, _, code := e.ExecuteWithContext(context.Background(), "env")
		require.Equal(t, 0, code)
		require.Contains(t, out, "BOOTWRIGHT_TEST_VAR=1")
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		e := NewCommonExecuter()
		_, _, code := e.ExecuteWithContext(ctx, "sleep", "5")
		require.NotEqual(t, 0, code)
	})
}

func TestLookPath(t *testing.T) {
	e := NewCommonExecuter()
	_, err := e.LookPath("sh")
	require.NoError(t, err)
	_, err = e.LookPath("definitely-not-a-binary-zzz")
	require.Error(t, err)
}
