// Package tlsconfig builds the *tls.Config for the WebSocket listener's
// optional TLS termination (spec §4.7's external-collaborator TLS
// surface).
//
// The teacher's TLS surface (internal/adapter/inbound/httpgw.TLSInspector)
// is a CONNECT-tunnel MITM inspector with a per-domain certificate cache —
// built for intercepting a proxied client's outbound HTTPS traffic. A
// riptide server terminates TLS for its own first-party listener instead,
// so only the teacher's minimum-version/cipher hardening posture carries
// over; the certificate-cache and bypass-list machinery has no equivalent
// here and is not adapted.
package tlsconfig

import (
	"crypto/tls"
	"fmt"

	"github.com/riptide-ws/riptide/internal/config"
)

// Load builds a *tls.Config from cfg, or returns (nil, nil) when TLS is
// disabled — callers treat a nil config as "serve plaintext."
func Load(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("tlsconfig: loading keypair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
