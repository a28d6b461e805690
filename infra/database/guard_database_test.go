package database

import "testing"

func TestSimpleProtocolURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no query", "postgres://u@h/db", "postgres://u@h/db?default_query_exec_mode=simple_protocol"},
		{"with query", "postgres://u@h/db?sslmode=disable", "postgres://u@h/db?sslmode=disable&default_query_exec_mode=simple_protocol"},
		{"already set", "postgres://u@h/db?default_query_exec_mode=exec", "postgres://u@h/db?default_query_exec_mode=exec"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SimpleProtocolURL(tt.in); got != tt.want {
				t.Errorf("SimpleProtocolURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
