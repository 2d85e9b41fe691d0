package google

import (
	"errors"
	"io"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestBenignStreamEnd(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"eof", io.EOF, true},
		{"canceled", status.Error(codes.Canceled, "context canceled"), true},
		{"deadline", status.Error(codes.DeadlineExceeded, "deadline exceeded"), true},
		{"unavailable", status.Error(codes.Unavailable, "backend down"), false},
		{"internal", status.Error(codes.Internal, "boom"), false},
		{"plain error", errors.New("connection reset"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := benignStreamEnd(tt.err); got != tt.want {
				t.Errorf("benignStreamEnd(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
