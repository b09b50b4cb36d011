package loop

import (
	"context"
	"crypto/tls"
	"net"
)

// TLSConfig wraps an optional *tls.Config for CreateConnectionTo and
// CreateServerTo; a nil/zero-value Config means plaintext.
type TLSConfig struct {
	Config *tls.Config
}

func dialMaybeTLS(ctx context.Context, network, addr string, cfg TLSConfig) (net.Conn, error) {
	var d net.Dialer
	if cfg.Config == nil {
		return d.DialContext(ctx, network, addr)
	}
	td := tls.Dialer{NetDialer: &d, Config: cfg.Config}
	return td.DialContext(ctx, network, addr)
}

func upgradeClientTLS(ctx context.Context, conn net.Conn, cfg TLSConfig) (net.Conn, error) {
	tlsCfg := cfg.Config
	if tlsCfg == nil {
		tlsCfg = &tls.Config{}
	}
	tc := tls.Client(conn, tlsCfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	return tc, nil
}

func listenMaybeTLS(network, addr string, cfg TLSConfig) (net.Listener, error) {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}
	if cfg.Config == nil {
		return ln, nil
	}
	return tls.NewListener(ln, cfg.Config), nil
}
