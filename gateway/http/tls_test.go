package http

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zamazir/THMmonitor/gateway"
	"github.com/zamazir/THMmonitor/pkg/tlsutil"
)

func writeServerCert(t *testing.T) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "thmmonitor"},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0644))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600))
	return certFile, keyFile
}

func TestServer_TLS(t *testing.T) {
	certFile, keyFile := writeServerCert(t)

	cfg := gateway.DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.TLS = tlsutil.ServerConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile}
	f := newFixture(t, cfg, nil)

	require.NoError(t, f.server.Start(context.Background()))
	t.Cleanup(func() { _ = f.server.Stop(time.Second) })

	clientTLS, err := tlsutil.LoadClientConfig(tlsutil.ClientConfig{Enabled: true, CAFiles: []string{certFile}})
	require.NoError(t, err)
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: clientTLS}, Timeout: 5 * time.Second}

	resp, err := client.Get(fmt.Sprintf("https://%s/health", f.server.Addr()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Plain HTTP against the TLS listener fails.
	plain := &http.Client{Timeout: 2 * time.Second}
	resp, err = plain.Get(fmt.Sprintf("http://%s/health", f.server.Addr()))
	if err == nil {
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
}

func TestNewServer_TLSMissingCertificate(t *testing.T) {
	cfg := gateway.DefaultConfig()
	cfg.TLS = tlsutil.ServerConfig{
		Enabled:  true,
		CertFile: filepath.Join(t.TempDir(), "missing.pem"),
		KeyFile:  filepath.Join(t.TempDir(), "missing-key.pem"),
	}
	f := newFixture(t, gateway.DefaultConfig(), nil)
	_, err := NewServer(cfg, Deps{Session: f.session})
	assert.Error(t, err)
}
