package domain

import (
	"testing"

	"github.com/FreePeak/golang-sockjs-server-sdk/internal/protocol"
)

func TestSessionUnavailableError(t *testing.T) {
	tests := []struct {
		name   string
		status protocol.CloseStatus
		want   string
	}{
		{
			name:   "Interrupted",
			status: protocol.ConnInterrupted,
			want:   "session unavailable: 1002 Connection interrupted",
		},
		{
			name:   "AlreadyOpen",
			status: protocol.ConnAlreadyOpen,
			want:   "session unavailable: 2010 Another connection still open",
		},
		{
			name:   "Closed",
			status: protocol.ConnClosed,
			want:   "session unavailable: 3000 Go away!",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewSessionUnavailableError(tt.status)

			if err.Status != tt.status {
				t.Errorf("Status = %v, want %v", err.Status, tt.status)
			}
			if err.Error() != tt.want {
				t.Errorf("Error() = %q, want %q", err.Error(), tt.want)
			}
		})
	}
}
