package messaging

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tutormarket/internal/apperr"
	"tutormarket/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 16 << 10
	requestTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// origin is checked by the CORS layer in front of the handler
	CheckOrigin: func(*http.Request) bool { return true },
}

// Serve upgrades the request and runs the connection for u until either
// side closes it.
func (g *Gateway) Serve(w http.ResponseWriter, r *http.Request, u model.User) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := g.Connect(u)

	done := make(chan struct{})
	go func() {
		defer close(done)
		g.writePump(conn, c)
	}()
	g.readPump(r.Context(), conn, c)
	g.Disconnect(c)
	<-done
	return nil
}

func (g *Gateway) readPump(ctx context.Context, conn *websocket.Conn, c *Client) {
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug("websocket read failed", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
		reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requestTimeout)
		g.dispatch(reqCtx, c, ev)
		cancel()
	}
}

func (g *Gateway) writePump(conn *websocket.Conn, c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case ev, ok := <-c.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch handles one inbound frame. Failures are reported to the sender
// as an error frame; the connection stays open.
func (g *Gateway) dispatch(ctx context.Context, c *Client, ev Event) {
	switch ev.Type {
	case EventJoin:
		var ref ConversationRef
		if err := ev.Decode(&ref); err != nil {
			g.replyError(c, ev.Type, ErrorData{}, malformed(err))
			return
		}
		if err := g.JoinChannel(ctx, c, ref.ConversationID); err != nil {
			g.replyError(c, ev.Type, ErrorData{ConversationID: ref.ConversationID}, err)
		}
	case EventLeave:
		var ref ConversationRef
		if err := ev.Decode(&ref); err != nil {
			g.replyError(c, ev.Type, ErrorData{}, malformed(err))
			return
		}
		g.Leave(c, ref.ConversationID)
	case EventSendMessage:
		var in SendData
		if err := ev.Decode(&in); err != nil {
			g.replyError(c, ev.Type, ErrorData{}, malformed(err))
			return
		}
		if _, err := g.SendMessage(ctx, c.User, in.ConversationID, in.Text); err != nil {
			g.replyError(c, ev.Type, ErrorData{ConversationID: in.ConversationID, Text: in.Text}, err)
		}
	case EventMarkRead:
		var ref ConversationRef
		if err := ev.Decode(&ref); err != nil {
			g.replyError(c, ev.Type, ErrorData{}, malformed(err))
			return
		}
		if _, err := g.MarkRead(ctx, c.User, ref.ConversationID); err != nil {
			g.replyError(c, ev.Type, ErrorData{ConversationID: ref.ConversationID}, err)
		}
	default:
		g.replyError(c, ev.Type, ErrorData{}, apperr.New("messaging.dispatch", apperr.ErrValidation, "unknown event"))
	}
}

func malformed(err error) error {
	return apperr.Wrap("messaging.dispatch", apperr.ErrValidation, "malformed payload", err)
}

func (g *Gateway) replyError(c *Client, typ string, data ErrorData, err error) {
	data.Event = typ
	data.Kind = "internal"
	if kind := apperr.KindOf(err); kind != nil {
		data.Kind = kind.Error()
	}
	data.Message, _ = apperr.Details(err)
	if data.Kind == "internal" {
		g.logger.Error("websocket request failed", zap.String("event", typ), zap.String("client_id", c.ID), zap.Error(err))
		data.Message = "internal error"
	}
	if errors.Is(err, apperr.ErrUnavailable) {
		g.logger.Warn("websocket request unavailable", zap.String("event", typ), zap.Error(err))
	}
	if ev, err := NewEvent(EventError, data); err == nil {
		c.enqueue(ev)
	}
}
