package mitm_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/relayproxy/internal/mitm"
)

func testCA(t *testing.T) mitm.CA {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"relayproxy test CA"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
		Leaf:        cert,
	}
}

func TestSignHost(t *testing.T) {
	ca := testCA(t)
	cert, err := mitm.SignHost(ca, []string{"example.com"})
	require.NoError(t, err)
	require.NotNil(t, cert)

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, leaf.DNSNames, "example.com")
	assert.True(t, leaf.NotAfter.After(time.Now()))
}

func TestSignHostIP(t *testing.T) {
	ca := testCA(t)
	cert, err := mitm.SignHost(ca, []string{"127.0.0.1"})
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	require.Len(t, leaf.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", leaf.IPAddresses[0].String())
}

func TestSignHostSameHostsSameSerial(t *testing.T) {
	ca := testCA(t)
	c1, err := mitm.SignHost(ca, []string{"a.example.com", "b.example.com"})
	require.NoError(t, err)
	c2, err := mitm.SignHost(ca, []string{"b.example.com", "a.example.com"})
	require.NoError(t, err)

	l1, err := x509.ParseCertificate(c1.Certificate[0])
	require.NoError(t, err)
	l2, err := x509.ParseCertificate(c2.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, 0, l1.SerialNumber.Cmp(l2.SerialNumber))
}
