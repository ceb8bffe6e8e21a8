package script

import (
	"crypto/tls"
	"net/http/httptrace"
	"sync"
	"time"
)

// Timings break a request's duration into phases.
type Timings struct {
	// Connecting is the TCP connect time, zero for a reused connection
	Connecting time.Duration

	// TLSHandshaking is the TLS handshake time
	TLSHandshaking time.Duration

	// Waiting is the time from the request being written to the first
	// response byte
	Waiting time.Duration

	// Receiving is the time spent reading the response body
	Receiving time.Duration
}

// tracer collects phase timestamps. Trace hooks can run on the dialing
// goroutine, so every field is guarded by mu.
type tracer struct {
	mu           sync.Mutex
	connectStart time.Time
	connectDone  time.Time
	tlsStart     time.Time
	tlsDone      time.Time
	wroteRequest time.Time
	firstByte    time.Time
}

func (t *tracer) clientTrace() *httptrace.ClientTrace {
	stamp := func(dst *time.Time) {
		t.mu.Lock()
		*dst = time.Now()
		t.mu.Unlock()
	}
	return &httptrace.ClientTrace{
		ConnectStart: func(network, addr string) { stamp(&t.connectStart) },
		ConnectDone: func(network, addr string, err error) {
			if err == nil {
				stamp(&t.connectDone)
			}
		},
		TLSHandshakeStart: func() { stamp(&t.tlsStart) },
		TLSHandshakeDone: func(_ tls.ConnectionState, err error) {
			if err == nil {
				stamp(&t.tlsDone)
			}
		},
		WroteRequest:         func(httptrace.WroteRequestInfo) { stamp(&t.wroteRequest) },
		GotFirstResponseByte: func() { stamp(&t.firstByte) },
	}
}

// timings computes the phases of a request whose body was read by end.
func (t *tracer) timings(end time.Time) Timings {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Timings{
		Connecting:     span(t.connectStart, t.connectDone),
		TLSHandshaking: span(t.tlsStart, t.tlsDone),
		Waiting:        span(t.wroteRequest, t.firstByte),
		Receiving:      span(t.firstByte, end),
	}
}

func span(from, to time.Time) time.Duration {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return 0
	}
	return to.Sub(from)
}
