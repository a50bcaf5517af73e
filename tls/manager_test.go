package tls

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/saiset-co/sai-desa/logger"
	"github.com/saiset-co/sai-desa/types"
)

func writeCertificate(t *testing.T, notAfter time.Time) (string, string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "desa.test"},
		DNSNames:     []string{"desa.test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")

	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0600); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	return certFile, keyFile
}

func TestCertificateFiles(t *testing.T) {
	certFile, keyFile := writeCertificate(t, time.Now().Add(10*24*time.Hour))

	cm, err := NewCertManager(context.Background(), &types.TLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile}, logger.NewNop())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := cm.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer cm.Stop()

	if cfg := cm.GetTLSConfig(); cfg == nil || len(cfg.Certificates) != 1 {
		t.Fatalf("expected loaded certificate")
	}

	status := cm.GetCertificateStatus()["desa.test"]
	if status.Status != "expiring_soon" {
		t.Fatalf("unexpected status %+v", status)
	}

	ln, err := cm.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_ = ln.Close()
}

func TestExpiredCertificateRejected(t *testing.T) {
	certFile, keyFile := writeCertificate(t, time.Now().Add(-time.Minute))

	cm, err := NewCertManager(context.Background(), &types.TLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile}, logger.NewNop())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := cm.Start(); err == nil {
		t.Fatalf("expected expired certificate to be rejected")
	}
	if cm.IsRunning() {
		t.Fatalf("manager must stay stopped")
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config *types.TLSConfig
	}{
		{"nil", nil},
		{"autocert without domains", &types.TLSConfig{Enabled: true, AutoCert: true}},
		{"missing files", &types.TLSConfig{Enabled: true, CertFile: "cert.pem"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCertManager(context.Background(), tt.config, logger.NewNop()); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestAutocertConfig(t *testing.T) {
	cm, err := NewCertManager(context.Background(), &types.TLSConfig{
		Enabled:  true,
		AutoCert: true,
		Domains:  []string{"desa.example.id"},
		CacheDir: t.TempDir(),
	}, logger.NewNop())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := cm.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer cm.Stop()

	cfg := cm.GetTLSConfig()
	if cfg == nil || cfg.GetCertificate == nil {
		t.Fatalf("expected autocert tls config")
	}
}
