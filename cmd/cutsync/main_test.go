package main

import (
	"errors"
	"fmt"
	"testing"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "usage error",
			err:  usageErrorf("specify a file or --all"),
			want: 2,
		},
		{
			name: "wrapped usage error",
			err:  fmt.Errorf("add: %w", usageErrorf("--manufacturer and --part are required")),
			want: 2,
		},
		{
			name: "partial failure",
			err:  &partialFailureError{failed: 2, total: 5},
			want: 3,
		},
		{
			name: "plain error",
			err:  errors.New("transport unavailable"),
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
