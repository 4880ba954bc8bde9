package spot

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeCallsign(t *testing.T) {
	require.Equal(t, "JR1FYS", NormalizeCallsign(" jr1fys "))
	require.Equal(t, "K1ABC/P", NormalizeCallsign("k1abc.p"))
	require.Equal(t, "K1ABC", NormalizeCallsign("K1ABC/"))
}

func TestIsValidCallsign(t *testing.T) {
	for _, call := range []string{"JR1FYS", "UT7LW", "3D2AG", "VP2E/K1ABC", "K1ABC/P"} {
		require.True(t, IsValidCallsign(call), call)
	}
	for _, call := range []string{"", "AB", "ABCDEF", "K1 ABC", "K1ABC-#", "VERYLONGCALL1X"} {
		require.False(t, IsValidCallsign(call), call)
	}
}

func TestCallPrefix(t *testing.T) {
	cases := map[string]string{
		"JR1FYS":     "JR1",
		"UT7LW":      "UT7",
		"3D2AG":      "3D2",
		"VP2E/K1ABC": "VP2",
		"K1ABC/P":    "K1",
		"K1ABC/4":    "K1",
		"DL/W1AW":    "DL",
	}
	for call, want := range cases {
		require.Equal(t, want, CallPrefix(call), call)
	}
}
