package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zamazir/THMmonitor/errors"
)

// writeTestCert writes a self-signed certificate and key for cn and returns
// their paths. The certificate doubles as its own CA.
func writeTestCert(t *testing.T, dir, cn string) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{Organization: []string{"THM ground"}, CommonName: cn},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:              []string{"localhost"},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certFile = filepath.Join(dir, cn+"-cert.pem")
	keyFile = filepath.Join(dir, cn+"-key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0644))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600))
	return certFile, keyFile
}

func TestLoadServerConfig(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeTestCert(t, dir, "server")

	cfg, err := LoadServerConfig(ServerConfig{})
	require.NoError(t, err)
	assert.Nil(t, cfg, "disabled TLS yields no config")

	cfg, err = LoadServerConfig(ServerConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile, MinVersion: "1.3"})
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	assert.Equal(t, tls.NoClientCert, cfg.ClientAuth)

	_, err = LoadServerConfig(ServerConfig{Enabled: true, CertFile: certFile, KeyFile: filepath.Join(dir, "missing.pem")})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestLoadServerConfig_MTLS(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeTestCert(t, dir, "server")
	caFile, _ := writeTestCert(t, dir, "ops-console")

	cfg, err := LoadServerConfig(ServerConfig{
		Enabled:  true,
		CertFile: certFile,
		KeyFile:  keyFile,
		MTLS:     MTLSConfig{Enabled: true, ClientCAFiles: []string{caFile}, RequireClientCert: true},
	})
	require.NoError(t, err)
	assert.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)
	assert.NotNil(t, cfg.ClientCAs)
	assert.Nil(t, cfg.VerifyPeerCertificate)

	cfg, err = LoadServerConfig(ServerConfig{
		Enabled:  true,
		CertFile: certFile,
		KeyFile:  keyFile,
		MTLS:     MTLSConfig{Enabled: true, ClientCAFiles: []string{caFile}, AllowedClientCNs: []string{"ops-console"}},
	})
	require.NoError(t, err)
	assert.Equal(t, tls.VerifyClientCertIfGiven, cfg.ClientAuth)
	assert.NotNil(t, cfg.VerifyPeerCertificate)

	notPEM := filepath.Join(dir, "not.pem")
	require.NoError(t, os.WriteFile(notPEM, []byte("hello"), 0644))
	_, err = LoadServerConfig(ServerConfig{
		Enabled:  true,
		CertFile: certFile,
		KeyFile:  keyFile,
		MTLS:     MTLSConfig{Enabled: true, ClientCAFiles: []string{notPEM}},
	})
	assert.Error(t, err)
}

func TestLoadClientConfig(t *testing.T) {
	dir := t.TempDir()
	caFile, _ := writeTestCert(t, dir, "broker")
	certFile, keyFile := writeTestCert(t, dir, "thmmonitor")

	cfg, err := LoadClientConfig(ClientConfig{})
	require.NoError(t, err)
	assert.Nil(t, cfg)

	cfg, err = LoadClientConfig(ClientConfig{
		Enabled:    true,
		CAFiles:    []string{caFile},
		ServerName: "broker.ground",
		CertFile:   certFile,
		KeyFile:    keyFile,
	})
	require.NoError(t, err)
	assert.NotNil(t, cfg.RootCAs)
	assert.Equal(t, "broker.ground", cfg.ServerName)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Len(t, cfg.Certificates, 1)
	assert.False(t, cfg.InsecureSkipVerify)

	_, err = LoadClientConfig(ClientConfig{Enabled: true, CAFiles: []string{filepath.Join(dir, "missing.pem")}})
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"server disabled", (&ServerConfig{}).Validate(), false},
		{"server ok", (&ServerConfig{Enabled: true, CertFile: "c", KeyFile: "k"}).Validate(), false},
		{"server no key", (&ServerConfig{Enabled: true, CertFile: "c"}).Validate(), true},
		{"server bad version", (&ServerConfig{Enabled: true, CertFile: "c", KeyFile: "k", MinVersion: "1.0"}).Validate(), true},
		{"server mtls no ca", (&ServerConfig{Enabled: true, CertFile: "c", KeyFile: "k", MTLS: MTLSConfig{Enabled: true}}).Validate(), true},
		{"client disabled", (&ClientConfig{CertFile: "c"}).Validate(), false},
		{"client ok", (&ClientConfig{Enabled: true, MinVersion: "1.3"}).Validate(), false},
		{"client half pair", (&ClientConfig{Enabled: true, CertFile: "c"}).Validate(), true},
		{"client bad version", (&ClientConfig{Enabled: true, MinVersion: "tls1"}).Validate(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.wantErr {
				assert.ErrorIs(t, tt.err, errors.ErrInvalidConfig)
				return
			}
			assert.NoError(t, tt.err)
		})
	}
}

func TestVerifyAllowedClientCN(t *testing.T) {
	leaf := &x509.Certificate{Subject: pkix.Name{CommonName: "ops-console"}}

	assert.NoError(t, verifyAllowedClientCN([][]*x509.Certificate{{leaf}}, []string{"other", "ops-console"}))
	assert.Error(t, verifyAllowedClientCN([][]*x509.Certificate{{leaf}}, []string{"other"}))
	assert.NoError(t, verifyAllowedClientCN(nil, []string{"other"}))
}

func TestMTLSHandshake(t *testing.T) {
	dir := t.TempDir()
	serverCert, serverKey := writeTestCert(t, dir, "server")
	clientCert, clientKey := writeTestCert(t, dir, "ops-console")
	strangerCert, strangerKey := writeTestCert(t, dir, "stranger")

	serverTLS, err := LoadServerConfig(ServerConfig{
		Enabled:  true,
		CertFile: serverCert,
		KeyFile:  serverKey,
		MTLS: MTLSConfig{
			Enabled:           true,
			ClientCAFiles:     []string{clientCert, strangerCert},
			RequireClientCert: true,
			AllowedClientCNs:  []string{"ops-console"},
		},
	})
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	srv.TLS = serverTLS
	srv.StartTLS()
	defer srv.Close()

	get := func(certFile, keyFile string) error {
		clientTLS, err := LoadClientConfig(ClientConfig{
			Enabled:  true,
			CAFiles:  []string{serverCert},
			CertFile: certFile,
			KeyFile:  keyFile,
		})
		require.NoError(t, err)
		client := &http.Client{Transport: &http.Transport{TLSClientConfig: clientTLS}, Timeout: 5 * time.Second}
		resp, err := client.Get(srv.URL)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}

	assert.NoError(t, get(clientCert, clientKey))
	assert.Error(t, get(strangerCert, strangerKey), "CN not allowed")
	assert.Error(t, get("", ""), "client certificate required")
}
