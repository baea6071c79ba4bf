package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvPrefersLoadedMap(t *testing.T) {
	Env = map[string]string{"DUESFOX_TEST_KEY": "from-file"}
	t.Cleanup(func() { Env = nil })
	t.Setenv("DUESFOX_TEST_KEY", "from-os")

	assert.Equal(t, "from-file", GetEnv("DUESFOX_TEST_KEY", "def"))
	assert.Equal(t, "def", GetEnv("DUESFOX_TEST_MISSING", "def"))
}

func TestTypedGetters(t *testing.T) {
	Env = map[string]string{
		"T_INT":      "7",
		"T_BAD_INT":  "seven",
		"T_BOOL":     "true",
		"T_DURATION": "36h",
		"T_NEG_DUR":  "-1s",
		"T_LIST":     " 1, 2,,3 ",
	}
	t.Cleanup(func() { Env = nil })

	assert.Equal(t, 7, GetInt("T_INT", 1))
	assert.Equal(t, 1, GetInt("T_BAD_INT", 1))
	assert.True(t, GetBool("T_BOOL", false))
	assert.False(t, GetBool("T_MISSING", false))
	assert.Equal(t, 36*time.Hour, GetDuration("T_DURATION", time.Hour))
	assert.Equal(t, time.Hour, GetDuration("T_NEG_DUR", time.Hour))
	assert.Equal(t, []string{"1", "2", "3"}, GetList("T_LIST"))
	assert.Nil(t, GetList("T_MISSING"))
}
