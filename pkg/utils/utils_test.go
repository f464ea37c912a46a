package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDedupTrimsAndSkipsEmpty(t *testing.T) {
	out := Dedup([]string{"http://a/", "http://a", "", "http://b"})
	require.Equal(t, []string{"http://a", "http://b"}, out)
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("EXITWATCH_TEST_DURATION", "3s")
	t.Setenv("EXITWATCH_TEST_BAD_DURATION", "soon")
	t.Setenv("EXITWATCH_TEST_LIST", " active_exiting, ,exited_unslashed ")
	t.Setenv("EXITWATCH_TEST_INT64", "42")

	require.Equal(t, 3*time.Second, EnvDuration("EXITWATCH_TEST_DURATION", time.Second))
	require.Equal(t, time.Second, EnvDuration("EXITWATCH_TEST_BAD_DURATION", time.Second))
	require.Equal(t, []string{"active_exiting", "exited_unslashed"}, EnvList("EXITWATCH_TEST_LIST", nil))
	require.Equal(t, []string{"x"}, EnvList("EXITWATCH_TEST_UNSET_LIST", []string{"x"}))
	require.Equal(t, int64(42), EnvInt64("EXITWATCH_TEST_INT64", 1))
	require.Equal(t, "def", Env("EXITWATCH_TEST_UNSET", "def"))
}
