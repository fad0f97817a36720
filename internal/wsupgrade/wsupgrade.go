// Package wsupgrade detects WebSocket upgrade requests/responses so the
// generic connection state machine can hand off to raw TUNNELING once both
// legs agree to switch protocols, instead of treating the 101 response as
// an ordinary HTTP exchange. Grounded on the teacher's
// isWebSocketRequest/headerContains (websocket.go), generalized to use
// gorilla/websocket's own upgrade-detection helper.
package wsupgrade

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// IsUpgradeRequest reports whether req asks to switch to the WebSocket
// protocol: its Connection header lists "upgrade" and its Upgrade header
// lists "websocket", which is all gorilla/websocket.IsWebSocketUpgrade
// checks. Sec-WebSocket-Key and Sec-WebSocket-Version are not examined.
func IsUpgradeRequest(req *http.Request) bool {
	return websocket.IsWebSocketUpgrade(req)
}

// IsSwitchingProtocols reports whether resp is the origin's 101 response
// completing a WebSocket handshake.
func IsSwitchingProtocols(resp *http.Response) bool {
	return resp.StatusCode == http.StatusSwitchingProtocols
}
