package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/deixis/typhonweb/internal/engine"
	"github.com/deixis/typhonweb/internal/i18n"
	"github.com/deixis/typhonweb/internal/request"
)

const writeWait = 10 * time.Second

// streamMessage is what the server sends over a streaming run.
type streamMessage struct {
	Type   string          `json:"type"` // line, result, error
	Text   string          `json:"text,omitempty"`
	Error  string          `json:"error,omitempty"`
	Field  string          `json:"field,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// clientMessage is what the client may send after the run request.
type clientMessage struct {
	Type string `json:"type"` // cancel
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(s.origins, r.Header.Get("Origin"), r.Host)
		},
	}
}

// stream runs one request over a WebSocket. The first client message is
// the run request form; normalized transcript lines are pushed as they
// become final, followed by the result. Closing the socket or sending
// {"type":"cancel"} stops the engine.
func (s *Server) stream(c *gin.Context) {
	lang := requestLang(c)
	conn, err := s.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	_, body, err := conn.ReadMessage()
	if err != nil {
		s.log.Debug("websocket closed before a request arrived", zap.Error(err))
		return
	}
	req, err := request.DecodeJSON(body)
	if err != nil {
		s.sendError(conn, lang, err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go watchClient(conn, cancel)

	send := func(m streamMessage) {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(m); err != nil {
			// The reader sees the broken connection and cancels the run.
			s.log.Debug("websocket write failed", zap.Error(err))
		}
	}

	res, err := s.engine.Run(ctx, req, func(line string) {
		send(streamMessage{Type: "line", Text: line})
	})
	if err != nil {
		s.sendError(conn, lang, err)
		return
	}

	out, err := resultJSON(res, lang)
	if err != nil {
		s.sendError(conn, lang, err)
		return
	}
	send(streamMessage{Type: "result", Result: out})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

// watchClient cancels the run when the client goes away or asks to stop.
func watchClient(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		var m clientMessage
		if err := conn.ReadJSON(&m); err != nil {
			return
		}
		if m.Type == "cancel" {
			return
		}
	}
}

func (s *Server) sendError(conn *websocket.Conn, lang i18n.Lang, err error) {
	m := streamMessage{Type: "error", Error: err.Error()}
	var ve *request.ValidationError
	switch {
	case errors.As(err, &ve):
		m.Error = ve.Localize(lang)
		m.Field = ve.Field
	case errors.Is(err, engine.ErrBusy):
		m.Error = i18n.T(lang, "error.busy")
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(m)
}
