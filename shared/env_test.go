package shared

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetenv(t *testing.T) {
	const key = "GEMINI_LIVE_TEST_ENV"

	t.Setenv(key, "")
	v, err := Getenv(GetenvInt, key, false, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = Getenv(GetenvInt, key, true, 0)
	assert.ErrorIs(t, err, ErrRequiredEnvNotSet)

	t.Setenv(key, " 42 ")
	v, err = Getenv(GetenvInt, key, true, 0)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	t.Setenv(key, "1m30s")
	d, err := Getenv(GetenvDuration, key, false, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	t.Setenv(key, "maybe")
	_, err = Getenv(GetenvBool, key, false, false)
	assert.ErrorContains(t, err, key)
}

func TestMustGetenvPanics(t *testing.T) {
	const key = "GEMINI_LIVE_TEST_MUST"
	t.Setenv(key, "")
	assert.Panics(t, func() { MustGetenv(GetenvString, key, true, "") })
	assert.Equal(t, "fallback", MustGetenv(GetenvString, key, false, "fallback"))
}
