package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/lookupstream/errors"
)

// writeTestCert writes a self-signed certificate usable as server, client and
// CA certificate, returning the cert and key paths.
func writeTestCert(t *testing.T, dir, name string) (certFile, keyFile string) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			Organization: []string{"Test Org"},
			CommonName:   name,
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	certFile = filepath.Join(dir, name+".pem")
	keyFile = filepath.Join(dir, name+"-key.pem")
	require.NoError(t, os.WriteFile(certFile,
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}), 0644))
	require.NoError(t, os.WriteFile(keyFile,
		pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)}), 0600))
	return certFile, keyFile
}

func TestDisabled(t *testing.T) {
	client, err := LoadClientConfig(ClientConfig{CAFiles: []string{"missing.pem"}})
	require.NoError(t, err)
	assert.Nil(t, client)

	server, err := LoadServerConfig(ServerConfig{CertFile: "missing.pem"})
	require.NoError(t, err)
	assert.Nil(t, server)
}

func TestClientConfig_Validate(t *testing.T) {
	assert.NoError(t, ClientConfig{}.Validate())
	assert.NoError(t, ClientConfig{Enabled: true, MinVersion: "1.3"}.Validate())
	assert.ErrorIs(t, ClientConfig{Enabled: true, CertFile: "c.pem"}.Validate(), errors.ErrInvalidConfig)
	assert.ErrorIs(t, ClientConfig{Enabled: true, MinVersion: "1.0"}.Validate(), errors.ErrInvalidConfig)
}

func TestServerConfig_Validate(t *testing.T) {
	assert.NoError(t, ServerConfig{}.Validate())
	assert.NoError(t, ServerConfig{Enabled: true, CertFile: "c.pem", KeyFile: "k.pem"}.Validate())
	assert.ErrorIs(t, ServerConfig{Enabled: true}.Validate(), errors.ErrMissingConfig)
	assert.ErrorIs(t, ServerConfig{
		Enabled: true, CertFile: "c.pem", KeyFile: "k.pem", RequireClientCert: true,
	}.Validate(), errors.ErrMissingConfig)
	assert.ErrorIs(t, ServerConfig{
		Enabled: true, CertFile: "c.pem", KeyFile: "k.pem", MinVersion: "tls1.3",
	}.Validate(), errors.ErrInvalidConfig)
}

func TestLoadClientConfig(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeTestCert(t, dir, "client")

	cfg, err := LoadClientConfig(ClientConfig{
		Enabled:    true,
		CAFiles:    []string{certFile},
		CertFile:   certFile,
		KeyFile:    keyFile,
		ServerName: "nats.internal",
		MinVersion: "1.3",
	})
	require.NoError(t, err)
	assert.NotNil(t, cfg.RootCAs)
	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, "nats.internal", cfg.ServerName)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	assert.False(t, cfg.InsecureSkipVerify)
}

func TestLoadClientConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not pem"), 0644))

	_, err := LoadClientConfig(ClientConfig{Enabled: true, CAFiles: []string{filepath.Join(dir, "missing.pem")}})
	assert.True(t, errors.IsFatal(err))

	_, err = LoadClientConfig(ClientConfig{Enabled: true, CAFiles: []string{garbage}})
	assert.ErrorIs(t, err, errors.ErrInvalidData)

	_, err = LoadClientConfig(ClientConfig{Enabled: true, CertFile: garbage, KeyFile: garbage})
	assert.True(t, errors.IsFatal(err))
}

func TestLoadServerConfig(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeTestCert(t, dir, "server")

	cfg, err := LoadServerConfig(ServerConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile})
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Equal(t, tls.NoClientCert, cfg.ClientAuth)

	cfg, err = LoadServerConfig(ServerConfig{
		Enabled: true, CertFile: certFile, KeyFile: keyFile, ClientCAFiles: []string{certFile},
	})
	require.NoError(t, err)
	assert.Equal(t, tls.VerifyClientCertIfGiven, cfg.ClientAuth)

	_, err = LoadServerConfig(ServerConfig{Enabled: true, CertFile: certFile, KeyFile: certFile})
	assert.True(t, errors.IsFatal(err))
}

func TestMutualTLSHandshake(t *testing.T) {
	dir := t.TempDir()
	serverCert, serverKey := writeTestCert(t, dir, "server")
	clientCert, clientKey := writeTestCert(t, dir, "client")

	serverCfg, err := LoadServerConfig(ServerConfig{
		Enabled:           true,
		CertFile:          serverCert,
		KeyFile:           serverKey,
		ClientCAFiles:     []string{clientCert},
		RequireClientCert: true,
	})
	require.NoError(t, err)

	listener, err := tls.Listen("tcp", "127.0.0.1:0", serverCfg)
	require.NoError(t, err)
	defer listener.Close()

	accepted := make(chan error, 2)
	go func() {
		for i := 0; i < 2; i++ {
			conn, err := listener.Accept()
			if err != nil {
				accepted <- err
				return
			}
			_, err = io.WriteString(conn, "ok")
			accepted <- err
			_ = conn.Close()
		}
	}()

	dial := func(cfg ClientConfig) error {
		clientCfg, err := LoadClientConfig(cfg)
		require.NoError(t, err)
		conn, err := tls.Dial("tcp", listener.Addr().String(), clientCfg)
		if err != nil {
			return err
		}
		defer conn.Close()
		buf := make([]byte, 2)
		_, err = io.ReadFull(conn, buf)
		return err
	}

	require.NoError(t, dial(ClientConfig{
		Enabled:  true,
		CAFiles:  []string{serverCert},
		CertFile: clientCert,
		KeyFile:  clientKey,
	}))
	require.NoError(t, <-accepted)

	// Without a client certificate the server rejects the handshake.
	assert.Error(t, dial(ClientConfig{Enabled: true, CAFiles: []string{serverCert}}))
}
