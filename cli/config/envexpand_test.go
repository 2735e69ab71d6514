package config

import "testing"

func TestExpandEnv(t *testing.T) {
	t.Setenv("SPOT_SET", "real")
	t.Setenv("SPOT_EMPTY", "")
	t.Setenv("SPOT_A", "alice")
	t.Setenv("SPOT_B", "bob")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set", "token: ${SPOT_SET}", "token: real"},
		{"unset", "token: ${SPOT_UNSET_12345}", "token: "},
		{"default when unset", "token: ${SPOT_UNSET_12345:-fallback}", "token: fallback"},
		{"default ignored when set", "token: ${SPOT_SET:-fallback}", "token: real"},
		{"default when empty", "token: ${SPOT_EMPTY:-fallback}", "token: fallback"},
		{"multiple", "${SPOT_A}:${SPOT_B}", "alice:bob"},
		{"no vars", "no variables here", "no variables here"},
		{"bare dollar untouched", "cost: $5 and $SPOT_SET", "cost: $5 and $SPOT_SET"},
		{
			"nested yaml",
			"adapter:\n  headers:\n    Authorization: Bearer ${SPOT_SET}",
			"adapter:\n  headers:\n    Authorization: Bearer real",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandEnv(tt.input); got != tt.want {
				t.Errorf("ExpandEnv(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
