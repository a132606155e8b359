package health

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"
)

type liveCertInfo struct {
	Issuer   string
	Subject  string
	NotAfter time.Time
}

type certInspector func(ctx context.Context, hostname string, timeout time.Duration) (*liveCertInfo, error)

// inspectLiveCertificate performs a TLS handshake against the hostname and
// reports the served leaf certificate.
func inspectLiveCertificate(ctx context.Context, hostname string, timeout time.Duration) (*liveCertInfo, error) {
	dialer := &net.Dialer{Timeout: timeout}

	conn, err := tls.DialWithDialer(dialer, "tcp", net.JoinHostPort(hostname, "443"), &tls.Config{
		ServerName: hostname,
	})
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	peers := conn.ConnectionState().PeerCertificates
	if len(peers) == 0 {
		return nil, errors.New("no certificates presented")
	}

	leaf := peers[0]
	return &liveCertInfo{
		Issuer:   leaf.Issuer.CommonName,
		Subject:  leaf.Subject.CommonName,
		NotAfter: leaf.NotAfter,
	}, nil
}
