package realtime

import (
	"context"
	"net/http"

	"github.com/coder/websocket"

	"taskflow/pkg/logger"
)

// wsConn adapts a coder/websocket connection to Conn.
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) Send(ctx context.Context, msg []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, msg)
}

func (w *wsConn) Close() error {
	return w.conn.Close(websocket.StatusGoingAway, "")
}

// ServeWS upgrades the request and keeps the connection registered until
// the client goes away. Inbound frames are read and discarded.
func (r *Relay) ServeWS(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	conn, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		logger.Error(ctx, "Websocket accept failed", "error", err)
		return
	}
	c := &wsConn{conn: conn}
	r.Connect(ctx, c)
	defer func() {
		r.Disconnect(ctx, c)
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		if _, _, err := conn.Read(ctx); err != nil {
			if websocket.CloseStatus(err) != -1 {
				logger.Debug(ctx, "Websocket closed", "status", websocket.CloseStatus(err))
			} else {
				logger.Debug(ctx, "Websocket read failed", "error", err)
			}
			return
		}
	}
}
