package main

import (
	"crypto/tls"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// clientCertReloader serves the client certificate for TLS handshakes and
// swaps it for a fresh copy from disk on SIGHUP. Reconnects picked up by
// the backoff loop then present the new certificate without a restart.
type clientCertReloader struct {
	certFile string
	keyFile  string

	mu   sync.RWMutex
	cert tls.Certificate
}

func newClientCertReloader(certFile, keyFile string) (*clientCertReloader, error) {
	r := &clientCertReloader{certFile: certFile, keyFile: keyFile}
	if err := r.reload(); err != nil {
		return nil, err
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := r.reload(); err != nil {
				logger.Errorf("keeping old client certificate, reload of %s failed: %s", r.certFile, err)
				continue
			}
			logger.Infof("reloaded client certificate from %s", r.certFile)
		}
	}()
	return r, nil
}

func (r *clientCertReloader) reload() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.cert = cert
	r.mu.Unlock()
	return nil
}

func (r *clientCertReloader) getClientCertificate(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cert := r.cert
	return &cert, nil
}

// tlsClientConfig builds the client TLS config used to dial a Mumble
// server, wiring in the reloadable client certificate when one is
// configured.
func tlsClientConfig(skipVerify bool, certFile, keyFile string) (*tls.Config, error) {
	cfg := &tls.Config{
		InsecureSkipVerify: skipVerify, //nolint:gosec
	}
	if certFile != "" && keyFile != "" {
		r, err := newClientCertReloader(certFile, keyFile)
		if err != nil {
			return nil, err
		}
		cfg.GetClientCertificate = r.getClientCertificate
	}
	return cfg, nil
}
