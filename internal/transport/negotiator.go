package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/vdi-broker/vdi-broker/internal/readiness"
	"github.com/vdi-broker/vdi-broker/internal/secrets"
)

// ConnectionInfo holds the parameters a native client needs to connect.
// Password is plaintext recovered for this call only; it must not be logged
// or persisted.
type ConnectionInfo struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Domain   string `json:"domain"`
	Protocol string `json:"protocol"`
	Address  string `json:"address"`
}

// Negotiator decides transport availability for an instance address and
// builds transport-specific connection artifacts.
type Negotiator struct {
	cache  readiness.Cache
	prober Prober
	cipher *secrets.Cipher
	ttl    time.Duration
	logger zerolog.Logger
}

func NewNegotiator(cache readiness.Cache, prober Prober, cipher *secrets.Cipher, ttl time.Duration, logger zerolog.Logger) *Negotiator {
	if ttl <= 0 {
		ttl = readiness.DefaultTTL
	}
	return &Negotiator{cache: cache, prober: prober, cipher: cipher, ttl: ttl, logger: logger}
}

// IsAvailable reports whether the transport listener answers at the
// instance address. Probe outcomes are cached for the TTL window, negative
// results included, so a flapping backend is not hammered.
func (n *Negotiator) IsAvailable(ctx context.Context, tr Transport, instanceAddr string) (bool, error) {
	addr := net.JoinHostPort(instanceAddr, strconv.Itoa(tr.ListenPort))
	ready, ok, err := n.cache.Get(ctx, addr)
	if err != nil {
		return false, err
	}
	if ok {
		return ready, nil
	}

	ready = n.prober.Probe(ctx, addr)
	if err := n.cache.Put(ctx, addr, ready, n.ttl); err != nil {
		return false, err
	}
	n.logger.Debug().Str("addr", addr).Bool("ready", ready).Msg("readiness probe")
	return ready, nil
}

// ConnectionInfoFor assembles the native-client connection descriptor.
func (n *Negotiator) ConnectionInfoFor(tr Transport, instanceAddr, username, domain, password string) ConnectionInfo {
	return ConnectionInfo{
		Username: username,
		Password: password,
		Domain:   domain,
		Protocol: tr.Protocol,
		Address:  net.JoinHostPort(instanceAddr, strconv.Itoa(tr.ListenPort)),
	}
}

// BuildEncodedScript renders the OS-specific connection script and seals it
// under the session scrambler, so the plaintext credential never crosses the
// wire unprotected.
func (n *Negotiator) BuildEncodedScript(tr Transport, clientOS string, params ScriptParams, scrambler string) (string, error) {
	params.Port = tr.ListenPort
	script, err := RenderScript(tr.ScriptTemplate, clientOS, params)
	if err != nil {
		return "", err
	}
	encoded, err := n.cipher.Encrypt(script, scrambler)
	if err != nil {
		return "", fmt.Errorf("seal script: %w", err)
	}
	return encoded, nil
}
