// Package resilience classifies probe errors so a poll loop can tell
// a transient condition worth another attempt from one that ends the
// poll outright.
package resilience

import (
	"context"
	"errors"
	"net"
	"syscall"
)

// Class labels the failure mode of a probe attempt.
type Class string

const (
	ClassNone       Class = "none"
	ClassCanceled   Class = "canceled"
	ClassTimeout    Class = "timeout"
	ClassConnection Class = "connection"
	ClassDNS        Class = "dns"
	ClassOther      Class = "other"
)

// Transient reports whether another attempt could plausibly succeed.
// Only cancellation is terminal: a replica that is still loading its
// model refuses connections, times out, or answers garbage for a
// while, and all of those clear up on their own. A cancelled context
// never does.
func (c Class) Transient() bool {
	return c != ClassCanceled && c != ClassNone
}

// Classify labels err. The caller decides what to do with the label;
// Classify itself makes no retry decision.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ClassDNS
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EHOSTUNREACH):
		return ClassConnection
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ClassConnection
	}

	return ClassOther
}
