package mitm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/relayproxy/internal/mitm"
)

func TestDefaultSslContextFactoryServerConfigFor(t *testing.T) {
	ca := testCA(t)
	factory := mitm.NewDefaultSslContextFactory(ca, nil)

	cfg, err := factory.ServerConfigFor("example.com")
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
}

func TestDefaultSslContextFactoryReusesCache(t *testing.T) {
	ca := testCA(t)
	factory := mitm.NewDefaultSslContextFactory(ca, nil)

	cfg1, err := factory.ServerConfigFor("example.com")
	require.NoError(t, err)
	cfg2, err := factory.ServerConfigFor("example.com")
	require.NoError(t, err)

	assert.Equal(t, cfg1.Certificates[0].Certificate, cfg2.Certificates[0].Certificate)
}
