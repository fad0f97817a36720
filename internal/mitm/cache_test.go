package mitm_test

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/relayproxy/internal/mitm"
)

func TestMemStorageCachesUntilTTL(t *testing.T) {
	storage := mitm.NewMemStorage(20 * time.Millisecond)
	calls := 0
	gen := func() (*tls.Certificate, error) {
		calls++
		return &tls.Certificate{}, nil
	}

	_, err := storage.Fetch("key", gen)
	require.NoError(t, err)
	_, err = storage.Fetch("key", gen)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	time.Sleep(30 * time.Millisecond)
	_, err = storage.Fetch("key", gen)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCachedSignerSignsOncePerHostSet(t *testing.T) {
	ca := testCA(t)
	signer := mitm.NewCachedSigner(ca, nil)

	c1, err := signer.SignHost([]string{"example.com"})
	require.NoError(t, err)
	c2, err := signer.SignHost([]string{"example.com"})
	require.NoError(t, err)

	assert.Same(t, c1, c2)
}

func TestCachedSignerOrderIndependentKey(t *testing.T) {
	ca := testCA(t)
	signer := mitm.NewCachedSigner(ca, nil)

	c1, err := signer.SignHost([]string{"a.example.com", "b.example.com"})
	require.NoError(t, err)
	c2, err := signer.SignHost([]string{"b.example.com", "a.example.com"})
	require.NoError(t, err)

	assert.Same(t, c1, c2)
}
