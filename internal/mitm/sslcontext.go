package mitm

import "crypto/tls"

// DefaultSslContextFactory builds a *tls.Config presenting a freshly
// signed (and cached) leaf certificate for the intercepted hostname,
// implementing collab.SslContextFactory. Grounded on the teacher's
// TLSConfigFromCA/certs.go pattern of building a tls.Config per hostname
// around a GetCertificate callback.
type DefaultSslContextFactory struct {
	Signer *CachedSigner
}

// NewDefaultSslContextFactory builds a DefaultSslContextFactory signing
// under ca, with leaf certificates cached in storage (a MemStorage with a
// 10-minute TTL when storage is nil).
func NewDefaultSslContextFactory(ca CA, storage Storage) *DefaultSslContextFactory {
	return &DefaultSslContextFactory{Signer: NewCachedSigner(ca, storage)}
}

func (f *DefaultSslContextFactory) ServerConfigFor(hostname string) (*tls.Config, error) {
	cert, err := f.Signer.SignHost([]string{hostname})
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{*cert}}, nil
}
