// Package mitm implements the MITM-interception collaborators of spec.md
// §6: on-the-fly leaf certificate signing under a CA, a TTL-bounded cert
// cache, and TLS ClientHello SNI sniffing used by the transparent listener.
// Grounded on the teacher's signer.go/certs.go/cached_signer.go.
package mitm

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"sort"
	"time"
)

// CA holds the root certificate and key used to sign per-host leaf
// certificates for client-leg TLS interception (spec.md's MITM
// interception, GLOSSARY).
type CA = tls.Certificate

// SignHost signs a fresh leaf certificate for hosts, valid for one year (or
// until ca itself expires, whichever is sooner), under ca. Grounded on
// signHost/signHostX509/hashSorted (teacher's signer.go).
func SignHost(ca CA, hosts []string) (*tls.Certificate, error) {
	x509ca, err := x509.ParseCertificate(ca.Certificate[0])
	if err != nil {
		return nil, err
	}
	pemCert, pemKey, err := signHostX509(x509ca, ca.PrivateKey, hosts)
	if err != nil {
		return nil, err
	}
	cert, err := tls.X509KeyPair(pemCert, pemKey)
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

func signHostX509(ca *x509.Certificate, capriv interface{}, hosts []string) (pemCert, pemKey []byte, err error) {
	now := time.Now()
	notAfter := now.Add(365 * 24 * time.Hour)
	// A leaf cert must not outlive the CA that signs it, or the chain
	// stops validating the day the CA expires while the leaf claims
	// another year of life.
	if ca.NotAfter.Before(notAfter) {
		notAfter = ca.NotAfter
	}
	template := x509.Certificate{
		SerialNumber: hashSorted(hosts),
		Issuer:       ca.Subject,
		Subject: pkix.Name{
			Organization: []string{"relayproxy MITM interception"},
		},
		NotBefore: now,
		NotAfter:  notAfter,

		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}
	certpriv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}
	keyBuf := new(bytes.Buffer)
	if err := pem.Encode(keyBuf, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(certpriv)}); err != nil {
		return nil, nil, err
	}
	derBytes, err := x509.CreateCertificate(rand.Reader, &template, ca, &certpriv.PublicKey, capriv)
	if err != nil {
		return nil, nil, err
	}
	certBuf := new(bytes.Buffer)
	if err := pem.Encode(certBuf, &pem.Block{Type: "CERTIFICATE", Bytes: derBytes}); err != nil {
		return nil, nil, err
	}
	return certBuf.Bytes(), keyBuf.Bytes(), nil
}

func hashSorted(lst []string) *big.Int {
	c := make([]string, len(lst))
	copy(c, lst)
	sort.Strings(c)
	h := sha1.New()
	for _, s := range c {
		h.Write([]byte(s + ","))
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}
