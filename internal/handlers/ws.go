package handlers

import (
	"log"
	"net/http"

	"github.com/coder/websocket"
)

// WS upgrades the request and hands the connection to the session manager,
// which runs the hello handshake and the message loop until disconnect.
func (a *API) WS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("Failed to accept websocket: %v", err)
		return
	}
	defer conn.CloseNow()

	a.Sessions.HandleConn(r.Context(), conn, r.UserAgent())
}
