package transport

import (
	"context"
	"net"
	"time"
)

// Prober checks whether a transport listener is reachable at an address.
type Prober interface {
	Probe(ctx context.Context, addr string) bool
}

// TCPProber attempts a plain TCP handshake against the transport's listen
// port with a bounded timeout. Good enough as a readiness signal for RDP, NX
// and SPICE listeners without speaking the protocol itself.
type TCPProber struct {
	Timeout time.Duration
}

func NewTCPProber(timeout time.Duration) *TCPProber {
	return &TCPProber{Timeout: timeout}
}

func (p *TCPProber) Probe(ctx context.Context, addr string) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
