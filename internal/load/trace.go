package load

import (
	"context"
	"crypto/tls"
	"net/http/httptrace"
	"sync"
	"time"

	"github.com/volleyload/volley/internal/load/metrics"
)

// phaseTracer splits one request into connecting, TLS, waiting and
// receiving phases. A reused connection reports zero connect and TLS time.
type phaseTracer struct {
	mu sync.Mutex

	connectStart time.Time
	tlsStart     time.Time
	wroteRequest time.Time
	firstByte    time.Time

	timing metrics.RequestTiming
}

// withTrace attaches t to ctx. Transport callbacks may run on dial
// goroutines, so every field is guarded by mu.
func (t *phaseTracer) withTrace(ctx context.Context) context.Context {
	return httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		ConnectStart: func(_, _ string) {
			t.mu.Lock()
			if t.connectStart.IsZero() {
				t.connectStart = time.Now()
			}
			t.mu.Unlock()
		},
		ConnectDone: func(_, _ string, err error) {
			t.mu.Lock()
			if err == nil && !t.connectStart.IsZero() {
				t.timing.Connecting = time.Since(t.connectStart)
			}
			t.mu.Unlock()
		},
		TLSHandshakeStart: func() {
			t.mu.Lock()
			t.tlsStart = time.Now()
			t.mu.Unlock()
		},
		TLSHandshakeDone: func(_ tls.ConnectionState, err error) {
			t.mu.Lock()
			if err == nil && !t.tlsStart.IsZero() {
				t.timing.TLSHandshaking = time.Since(t.tlsStart)
			}
			t.mu.Unlock()
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			t.mu.Lock()
			t.wroteRequest = time.Now()
			t.mu.Unlock()
		},
		GotFirstResponseByte: func() {
			t.mu.Lock()
			t.firstByte = time.Now()
			if !t.wroteRequest.IsZero() {
				t.timing.Waiting = t.firstByte.Sub(t.wroteRequest)
			}
			t.mu.Unlock()
		},
	})
}

// finish closes the receiving phase at end, the moment the body was read.
func (t *phaseTracer) finish(end time.Time) metrics.RequestTiming {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.firstByte.IsZero() && end.After(t.firstByte) {
		t.timing.Receiving = end.Sub(t.firstByte)
	}
	return t.timing
}
