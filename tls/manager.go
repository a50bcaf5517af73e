package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/saiset-co/sai-desa/types"
)

type State int32

const (
	StateStopped State = iota
	StateRunning
)

// CertManager serves TLS either from a certificate pair on disk or from
// ACME certificates obtained for the configured domains.
type CertManager struct {
	ctx          context.Context
	cancel       context.CancelFunc
	logger       types.Logger
	config       *types.TLSConfig
	autocertMgr  *autocert.Manager
	mu           sync.RWMutex
	certificates map[string]*tls.Certificate
	tlsConfig    *tls.Config
	state        atomic.Value
}

func NewCertManager(ctx context.Context, config *types.TLSConfig, logger types.Logger) (*CertManager, error) {
	if config == nil {
		return nil, types.Errorf(types.ErrConfigIsNil, "server.tls")
	}

	if config.AutoCert && len(config.Domains) == 0 {
		return nil, types.Errorf(types.ErrTLSConfigInvalid, "auto_cert needs at least one domain")
	}

	if !config.AutoCert && (config.CertFile == "" || config.KeyFile == "") {
		return nil, types.Errorf(types.ErrTLSConfigInvalid, "cert_file and key_file are required")
	}

	managerCtx, cancel := context.WithCancel(ctx)

	cm := &CertManager{
		ctx:          managerCtx,
		cancel:       cancel,
		logger:       logger,
		config:       config,
		certificates: make(map[string]*tls.Certificate),
	}
	cm.state.Store(StateStopped)

	return cm, nil
}

func (cm *CertManager) Start() error {
	if !cm.state.CompareAndSwap(StateStopped, StateRunning) {
		return types.ErrServerAlreadyRunning
	}

	var err error
	if cm.config.AutoCert {
		err = cm.initializeAutocert()
	} else {
		err = cm.loadCertificateFiles()
	}

	if err != nil {
		cm.state.Store(StateStopped)
		return err
	}

	cm.logger.Info("TLS manager started",
		zap.Bool("auto_cert", cm.config.AutoCert),
		zap.Strings("domains", cm.config.Domains))

	return nil
}

func (cm *CertManager) Stop() error {
	if !cm.state.CompareAndSwap(StateRunning, StateStopped) {
		return types.ErrServerNotRunning
	}

	cm.cancel()
	cm.logger.Info("TLS manager stopped")
	return nil
}

func (cm *CertManager) IsRunning() bool {
	return cm.state.Load().(State) == StateRunning
}

func (cm *CertManager) Listen(addr string) (net.Listener, error) {
	if !cm.IsRunning() {
		return nil, types.ErrServerNotRunning
	}

	ln, err := tls.Listen("tcp", addr, cm.GetTLSConfig())
	if err != nil {
		return nil, types.WrapError(err, "failed to create TLS listener")
	}

	return ln, nil
}

func (cm *CertManager) GetTLSConfig() *tls.Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	return cm.tlsConfig
}

func (cm *CertManager) loadCertificateFiles() error {
	cert, err := tls.LoadX509KeyPair(cm.config.CertFile, cm.config.KeyFile)
	if err != nil {
		return types.WrapError(types.ErrTLSConfigInvalid, err.Error())
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return types.WrapError(types.ErrTLSConfigInvalid, err.Error())
	}

	if time.Now().After(leaf.NotAfter) {
		return types.Errorf(types.ErrTLSConfigInvalid, "certificate expired at %s", leaf.NotAfter.Format(time.RFC3339))
	}

	domain := leaf.Subject.CommonName
	if len(leaf.DNSNames) > 0 {
		domain = leaf.DNSNames[0]
	}

	cm.mu.Lock()
	cm.certificates[domain] = &cert
	cm.tlsConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	cm.mu.Unlock()

	return nil
}

func (cm *CertManager) initializeAutocert() error {
	cacheDir := cm.config.CacheDir
	if cacheDir == "" {
		cacheDir = "./certs"
	}

	if err := os.MkdirAll(cacheDir, 0700); err != nil {
		return types.WrapError(err, "failed to create certificate cache directory")
	}

	cm.autocertMgr = &autocert.Manager{
		Cache:      autocert.DirCache(cacheDir),
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(cm.config.Domains...),
		Email:      cm.config.Email,
	}

	tlsConfig := cm.autocertMgr.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12
	tlsConfig.GetCertificate = cm.remember(cm.autocertMgr.GetCertificate)

	cm.mu.Lock()
	cm.tlsConfig = tlsConfig
	cm.mu.Unlock()

	return nil
}

// remember records every certificate handed out so its expiry can be
// reported.
func (cm *CertManager) remember(getCert func(*tls.ClientHelloInfo) (*tls.Certificate, error)) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
		cert, err := getCert(hello)
		if err != nil {
			cm.logger.Warn("Failed to obtain certificate", zap.String("domain", hello.ServerName), zap.Error(err))
			return nil, err
		}

		if hello.ServerName != "" {
			cm.mu.Lock()
			cm.certificates[hello.ServerName] = cert
			cm.mu.Unlock()
		}

		return cert, nil
	}
}

func (cm *CertManager) GetCertificateStatus() map[string]types.CertificateStatus {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	status := make(map[string]types.CertificateStatus, len(cm.certificates))

	for domain, cert := range cm.certificates {
		if len(cert.Certificate) == 0 {
			status[domain] = types.CertificateStatus{Domain: domain, Status: "error", Error: "no certificate data"}
			continue
		}

		x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			status[domain] = types.CertificateStatus{Domain: domain, Status: "error", Error: err.Error()}
			continue
		}

		certStatus := "valid"
		daysUntilExpiry := int(time.Until(x509Cert.NotAfter).Hours() / 24)

		if daysUntilExpiry <= 0 {
			certStatus = "expired"
		} else if daysUntilExpiry <= 30 {
			certStatus = "expiring_soon"
		}

		status[domain] = types.CertificateStatus{
			Domain:          domain,
			Status:          certStatus,
			Issuer:          x509Cert.Issuer.String(),
			NotAfter:        x509Cert.NotAfter,
			DaysUntilExpiry: daysUntilExpiry,
		}
	}

	return status
}
