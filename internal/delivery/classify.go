package delivery

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Class describes how a failed attempt should be read by operators. Both
// classes are retried up to the attempt cap; a permanent failure (4xx other
// than 429) usually means subscriber misconfiguration rather than an outage,
// so it is tagged for visibility.
type Class string

const (
	ClassTransient Class = "transient"
	ClassPermanent Class = "permanent"
)

// Classify maps a send error / HTTP status to a class and a short reason
// label used in metrics and the ledger's error_reason column.
func Classify(err error, status int) (Class, string) {
	if err != nil {
		var netErr net.Error
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return ClassTransient, "timeout"
		case errors.As(err, &netErr) && netErr.Timeout():
			return ClassTransient, "timeout"
		}
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "connection refused"):
			return ClassTransient, "connection_refused"
		case strings.Contains(msg, "no such host"):
			return ClassTransient, "dns_error"
		default:
			return ClassTransient, "network"
		}
	}
	switch {
	case status >= 500:
		return ClassTransient, "http_5xx"
	case status == 429:
		return ClassTransient, "http_429"
	case status >= 400:
		return ClassPermanent, "http_4xx"
	default:
		return ClassTransient, "other"
	}
}
