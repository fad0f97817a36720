package wsupgrade_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaykit/relayproxy/internal/wsupgrade"
)

func TestIsUpgradeRequest(t *testing.T) {
	req := &http.Request{
		Method: http.MethodGet,
		Proto:  "HTTP/1.1",
		Header: http.Header{
			"Connection": []string{"Upgrade"},
			"Upgrade":    []string{"websocket"},
		},
	}
	assert.True(t, wsupgrade.IsUpgradeRequest(req))
}

func TestIsUpgradeRequestPlainGET(t *testing.T) {
	req := &http.Request{
		Method: http.MethodGet,
		Proto:  "HTTP/1.1",
		Header: http.Header{},
	}
	assert.False(t, wsupgrade.IsUpgradeRequest(req))
}

func TestIsSwitchingProtocols(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusSwitchingProtocols}
	assert.True(t, wsupgrade.IsSwitchingProtocols(resp))

	resp2 := &http.Response{StatusCode: http.StatusOK}
	assert.False(t, wsupgrade.IsSwitchingProtocols(resp2))
}
