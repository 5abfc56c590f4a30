package httpclient

import (
	"context"
	"fmt"
	"net"

	utls "github.com/refraction-networking/utls"
)

type utlsDialer struct {
	dialer *net.Dialer
	hello  utls.ClientHelloID
}

func newUTLSDialer(d *net.Dialer) *utlsDialer {
	return &utlsDialer{dialer: d, hello: utls.HelloRandomizedNoALPN}
}

// DialTLSContext dials addr and completes a utls handshake with SNI set to
// the host part of addr.
func (d *utlsDialer) DialTLSContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	raw, err := d.dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	conn := utls.UClient(raw, &utls.Config{ServerName: host}, d.hello)
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
	}
	return conn, nil
}
