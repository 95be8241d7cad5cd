package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	standardtls "crypto/tls"
	"crypto/x509"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSelfSignedCert(t *testing.T) {
	t.Parallel()

	cert, err := GenerateSelfSignedCert("mail.test.local", "10.0.0.7")
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err, "failed to parse certificate")

	assert.Equal(t, "localhost", leaf.Subject.CommonName)
	for _, host := range []string{"localhost", "mail.test.local", "127.0.0.1", "10.0.0.7"} {
		assert.NoError(t, leaf.VerifyHostname(host), "VerifyHostname(%q)", host)
	}

	ecKey, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	require.True(t, ok, "public key is not ECDSA")
	assert.Equal(t, elliptic.P256(), ecKey.Curve)
}

func TestClientConfig(t *testing.T) {
	t.Parallel()

	cfg := ClientConfig("smtp.example.com", false, nil)
	assert.Equal(t, "smtp.example.com", cfg.ServerName)
	assert.False(t, cfg.InsecureSkipVerify)
	assert.Equal(t, uint16(standardtls.VersionTLS12), cfg.MinVersion)

	assert.True(t, ClientConfig("smtp.example.com", true, nil).InsecureSkipVerify)
}

func TestCertPool_Handshake(t *testing.T) {
	t.Parallel()

	cert, err := GenerateSelfSignedCert()
	require.NoError(t, err)
	pool, err := CertPool(cert)
	require.NoError(t, err)

	ln, err := standardtls.Listen("tcp", "127.0.0.1:0", ServerConfig(cert))
	require.NoError(t, err, "failed to listen")
	defer ln.Close()

	errc := make(chan error, 2)
	go func() {
		for i := 0; i < 2; i++ {
			conn, err := ln.Accept()
			if err != nil {
				errc <- err
				return
			}
			errc <- conn.(*standardtls.Conn).Handshake()
			conn.Close()
		}
	}()

	conn := mustDial(t, ln.Addr().String())
	defer conn.Close()

	client := standardtls.Client(conn, ClientConfig("127.0.0.1", false, pool))
	require.NoError(t, client.Handshake(), "client handshake")
	require.NoError(t, <-errc, "server handshake")

	untrusted := standardtls.Client(mustDial(t, ln.Addr().String()), ClientConfig("127.0.0.1", false, x509.NewCertPool()))
	defer untrusted.Close()
	assert.Error(t, untrusted.Handshake(), "expected verification failure with an empty root pool")
}

func mustDial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err, "failed to dial")
	return conn
}

func TestCertPool_NoLeaf(t *testing.T) {
	t.Parallel()

	_, err := CertPool(&standardtls.Certificate{})
	assert.Error(t, err)
}
