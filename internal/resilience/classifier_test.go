package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassNone},
		{"canceled", context.Canceled, ClassCanceled},
		{"deadline", context.DeadlineExceeded, ClassTimeout},
		{"wrapped canceled", fmt.Errorf("probe failed: %w", context.Canceled), ClassCanceled},
		{"wrapped deadline", fmt.Errorf("probe failed: %w", context.DeadlineExceeded), ClassTimeout},
		{"dns", &net.DNSError{Err: "no such host", Name: "example.invalid"}, ClassDNS},
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, ClassConnection},
		{"reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, ClassConnection},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("weird")}, ClassConnection},
		{"unknown", errors.New("something unexpected"), ClassOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestTransient(t *testing.T) {
	for _, c := range []Class{ClassTimeout, ClassConnection, ClassDNS, ClassOther} {
		if !c.Transient() {
			t.Errorf("%s should be transient", c)
		}
	}
	for _, c := range []Class{ClassCanceled, ClassNone} {
		if c.Transient() {
			t.Errorf("%s should not be transient", c)
		}
	}
}
