// Package tlsutil builds tls.Config values for the HTTP gateway and for the
// MQTT and Kafka feed clients from file-based certificate settings.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/zamazir/THMmonitor/errors"
)

// MTLSConfig makes a server verify client certificates.
type MTLSConfig struct {
	Enabled           bool     `json:"enabled"`
	ClientCAFiles     []string `json:"client_ca_files,omitempty"`
	RequireClientCert bool     `json:"require_client_cert,omitempty"`
	AllowedClientCNs  []string `json:"allowed_client_cns,omitempty"`
}

// ServerConfig holds TLS configuration for a listening server.
type ServerConfig struct {
	Enabled    bool       `json:"enabled"`
	CertFile   string     `json:"cert_file,omitempty"`
	KeyFile    string     `json:"key_file,omitempty"`
	MinVersion string     `json:"min_version,omitempty"` // "1.2" or "1.3"
	MTLS       MTLSConfig `json:"mtls,omitempty"`
}

// Validate checks the configuration for errors
func (c *ServerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.CertFile == "" || c.KeyFile == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ServerConfig", "Validate",
			"cert_file and key_file are required when tls is enabled")
	}
	if err := checkVersion(c.MinVersion); err != nil {
		return errors.WrapInvalid(err, "ServerConfig", "Validate", "check min_version")
	}
	if c.MTLS.Enabled && len(c.MTLS.ClientCAFiles) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ServerConfig", "Validate",
			"mtls requires client_ca_files")
	}
	return nil
}

// ClientConfig holds TLS configuration for an outgoing connection. The
// system CA pool is always trusted; CAFiles adds to it.
type ClientConfig struct {
	Enabled            bool     `json:"enabled"`
	CAFiles            []string `json:"ca_files,omitempty"`
	ServerName         string   `json:"server_name,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty"` // test rigs only
	MinVersion         string   `json:"min_version,omitempty"`
	// CertFile and KeyFile present a client certificate for mTLS.
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
}

// Validate checks the configuration for errors
func (c *ClientConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ClientConfig", "Validate",
			"cert_file and key_file must be set together")
	}
	if err := checkVersion(c.MinVersion); err != nil {
		return errors.WrapInvalid(err, "ClientConfig", "Validate", "check min_version")
	}
	return nil
}

// LoadServerConfig returns nil when TLS is disabled.
func LoadServerConfig(cfg ServerConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerConfig", "load certificate")
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   parseTLSVersion(cfg.MinVersion),
	}

	if cfg.MTLS.Enabled {
		if err := applyMTLS(tlsConfig, cfg.MTLS); err != nil {
			return nil, err
		}
	}
	return tlsConfig, nil
}

// LoadClientConfig returns nil when TLS is disabled.
func LoadClientConfig(cfg ClientConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}
	for _, caFile := range cfg.CAFiles {
		if err := appendPEM(rootCAs, caFile); err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig", "load CA "+caFile)
		}
	}

	tlsConfig := &tls.Config{
		RootCAs:            rootCAs,
		ServerName:         cfg.ServerName,
		MinVersion:         parseTLSVersion(cfg.MinVersion),
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for test rigs
	}

	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

func applyMTLS(tlsConfig *tls.Config, cfg MTLSConfig) error {
	clientCAs := x509.NewCertPool()
	for _, caFile := range cfg.ClientCAFiles {
		if err := appendPEM(clientCAs, caFile); err != nil {
			return errors.WrapFatal(err, "tlsutil", "applyMTLS", "load client CA "+caFile)
		}
	}

	tlsConfig.ClientCAs = clientCAs
	if cfg.RequireClientCert {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	} else {
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	}

	if len(cfg.AllowedClientCNs) > 0 {
		allowed := cfg.AllowedClientCNs
		tlsConfig.VerifyPeerCertificate = func(_ [][]byte, chains [][]*x509.Certificate) error {
			return verifyAllowedClientCN(chains, allowed)
		}
	}
	return nil
}

func appendPEM(pool *x509.CertPool, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if !pool.AppendCertsFromPEM(data) {
		return fmt.Errorf("no PEM certificates in %s", path)
	}
	return nil
}

// verifyAllowedClientCN accepts a verified chain whose leaf CN is listed.
// Without a chain (optional client cert not given) there is nothing to check.
func verifyAllowedClientCN(chains [][]*x509.Certificate, allowed []string) error {
	if len(chains) == 0 || len(chains[0]) == 0 {
		return nil
	}
	cn := chains[0][0].Subject.CommonName
	for _, a := range allowed {
		if cn == a {
			return nil
		}
	}
	return fmt.Errorf("client certificate CN %q not in allowed list", cn)
}

func checkVersion(v string) error {
	switch v {
	case "", "1.2", "1.3":
		return nil
	default:
		return fmt.Errorf("%w: unsupported TLS version %q", errors.ErrInvalidConfig, v)
	}
}

// parseTLSVersion defaults to TLS 1.2.
func parseTLSVersion(version string) uint16 {
	if version == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}
