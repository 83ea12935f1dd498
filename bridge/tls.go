package bridge

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net/http"
)

// ClientTLSConfig returns a TLS config that trusts the given PEM-encoded CA certificates in addition to the system roots.
func ClientTLSConfig(caCertPEM []byte) (*tls.Config, error) {
	caCertPool, err := x509.SystemCertPool()
	if err != nil || caCertPool == nil {
		caCertPool = x509.NewCertPool()
	}
	if !caCertPool.AppendCertsFromPEM(caCertPEM) {
		return nil, errors.New("no CA certificates found in PEM")
	}
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    caCertPool,
	}
	return cfg, nil
}

// HTTPClient returns an HTTP client for dialing WebSocket connections with the given TLS config.
func HTTPClient(tlsConfig *tls.Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	return &http.Client{Transport: transport}
}
