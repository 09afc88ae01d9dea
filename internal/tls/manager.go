package tls

import (
	"crypto/tls"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"shop-auth-service/internal/config"
	"shop-auth-service/internal/util"
)

// Manager resolves the serving certificate: Let's Encrypt via autocert
// when configured, file-based certificates next, and a locally generated
// self-signed certificate as the development fallback.
type Manager struct {
	cfg      config.ServerConfig
	autoCert *autocert.Manager
}

func NewManager(cfg config.ServerConfig) *Manager {
	m := &Manager{cfg: cfg}
	if cfg.EnableTLS && cfg.AutoCert {
		m.setupAutoCert()
	}
	return m
}

func (m *Manager) setupAutoCert() {
	if err := os.MkdirAll(m.cfg.AutoCertDir, 0o700); err != nil {
		util.Warn("Could not create autocert directory", zap.Error(err))
		return
	}

	m.autoCert = &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(m.cfg.Domain),
		Cache:      autocert.DirCache(m.cfg.AutoCertDir),
		Email:      m.cfg.Email,
	}

	util.Info("AutoCert configured",
		zap.String("domain", m.cfg.Domain),
		zap.String("cache_dir", m.cfg.AutoCertDir))
}

func (m *Manager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autoCert != nil {
		if cert, err := m.autoCert.GetCertificate(hello); err == nil {
			return cert, nil
		}
	}

	if m.cfg.CertFile != "" && m.cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(m.cfg.CertFile, m.cfg.KeyFile)
		if err == nil {
			return &cert, nil
		}
	}

	return m.selfSignedCert()
}

func (m *Manager) selfSignedCert() (*tls.Certificate, error) {
	generator := NewDevCertGenerator(m.cfg.AutoCertDir)
	hosts := []string{
		m.cfg.Domain,
		"localhost",
		"127.0.0.1",
		"::1",
	}

	cert, err := generator.GenerateCert(hosts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate self-signed certificate: %v", err)
	}

	util.Info("Generated self-signed certificate", zap.Strings("hosts", hosts))
	return &cert, nil
}

func (m *Manager) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}
}

func (m *Manager) AutocertManager() *autocert.Manager {
	return m.autoCert
}
