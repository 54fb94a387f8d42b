package vmixer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSCRoundTrip(t *testing.T) {
	msg, err := buildOSC("/Strip/0/Gain", float32(-12.5), int32(3), "abc")
	require.NoError(t, err)
	assert.Zero(t, len(msg)%4)

	addr, args, err := parseOSC(msg)
	require.NoError(t, err)
	assert.Equal(t, "/Strip/0/Gain", addr)
	assert.Equal(t, []any{float32(-12.5), int32(3), "abc"}, args)
}

func TestOSCNoArgs(t *testing.T) {
	msg, err := buildOSC("/login")
	require.NoError(t, err)
	addr, args, err := parseOSC(msg)
	require.NoError(t, err)
	assert.Equal(t, "/login", addr)
	assert.Empty(t, args)
}

func TestOSCRejectsGarbage(t *testing.T) {
	_, _, err := parseOSC([]byte("hello"))
	assert.Error(t, err)

	_, _, err = parseOSC([]byte{'/', 'a', 'b', 'c'})
	assert.Error(t, err)
}

func TestParamAddress(t *testing.T) {
	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{"Strip[0].Gain", "/Strip/0/Gain", true},
		{"Strip[7].Mute", "/Strip/7/Mute", true},
		{"Bus[2].Gain", "/Bus/2/Gain", true},
		{"", "", false},
		{"Strip[0].", "", false},
		{"Strip[*].Gain", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := paramAddress(tt.name)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
