package devserver

import (
	"encoding/json"
	"time"

	"DMProject/module/dm/model"
	"DMProject/service/socket"
	"DMProject/tools"
	"DMProject/tools/decode"
	"DMProject/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	readLimit  = 1 << 20
)

func (s *Server) handleWS(c *gin.Context) {
	userID := userOf(c)
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Info("upgrade failed", zap.Error(err))
		return
	}
	p := &peer{userID: userID, conn: ws, send: make(chan []byte, sendQueue), done: make(chan struct{})}
	s.hub.register(p)
	s.log.Info("socket connected", zap.String("user", userID))

	writerDone := make(chan struct{})
	go s.writeLoop(p, writerDone)
	s.readLoop(p)

	p.close()
	<-writerDone
	if s.hub.unregister(p) {
		last, _ := s.hub.seen(userID)
		s.hub.toOthers(userID, socket.EventUserOnline, presence(userID, false, last))
	}
	s.log.Info("socket closed", zap.String("user", userID))
}

func presence(userID string, online bool, lastSeen time.Time) map[string]any {
	v := map[string]any{"userId": userID, "isOnline": online}
	if !online && !lastSeen.IsZero() {
		v["lastSeen"] = lastSeen.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func (s *Server) writeLoop(p *peer, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer p.conn.Close()
	for {
		select {
		case <-p.done:
			_ = p.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case frame := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.Debug("write failed", zap.String("user", p.userID), zap.Error(err))
				p.close()
				return
			}
		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				p.close()
				return
			}
		}
	}
}

func (s *Server) readLoop(p *peer) {
	p.conn.SetReadLimit(readLimit)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		mt, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("read failed", zap.String("user", p.userID), zap.Error(err))
			}
			return
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
		if mt != websocket.TextMessage {
			continue
		}
		f, err := tools.DecodeFrame(data)
		if err != nil {
			s.log.Debug("bad frame", zap.String("user", p.userID), zap.Error(err))
			continue
		}
		_ = safe.Call(s.log, "event "+f.Event, func() { s.onEvent(p, f.Event, f.Data) })
	}
}

func (s *Server) onEvent(p *peer, event string, data json.RawMessage) {
	switch event {
	case socket.EventJoinRoom:
		roomID, err := decode.Scalar[string](data)
		if err != nil {
			return
		}
		if _, err := s.store.room(p.userID, roomID); err != nil {
			s.log.Debug("join refused", zap.String("room", roomID), zap.Error(err))
			return
		}
		s.hub.join(p, roomID)

	case socket.EventLeaveRoom:
		if roomID, err := decode.Scalar[string](data); err == nil {
			s.hub.leave(p, roomID)
		}

	case socket.EventSendMessage:
		in, err := decode.JSON[model.SendPayload](data)
		if err != nil {
			return
		}
		m, created, err := s.store.addMessage(p.userID, in.RoomID, incoming{Text: in.Text, TempID: in.TempID})
		if err != nil {
			s.hub.deliver([]*peer{p}, socket.EventMessageError, map[string]any{"tempId": in.TempID, "error": err.Error()})
			return
		}
		if created {
			s.hub.toUsers(s.store.members(in.RoomID), socket.EventNewMessage, m)
		}
		s.hub.deliver([]*peer{p}, socket.EventMessageConfirmed, map[string]any{"tempId": in.TempID, "message": m})

	case socket.EventTyping:
		t, err := decode.JSON[model.Typing](data)
		if err != nil {
			return
		}
		t.UserID = p.userID
		s.hub.toRoom(t.RoomID, p.userID, socket.EventUserTyping, t)

	case socket.EventMarkAsRead:
		roomID, err := decode.Scalar[string](data)
		if err != nil {
			return
		}
		if err := s.store.markRead(p.userID, roomID); err == nil {
			s.hub.toRoom(roomID, p.userID, socket.EventMessagesRead, model.RoomRead{RoomID: roomID})
		}

	case socket.EventOnlineStatus:
		online, err := decode.Scalar[bool](data)
		if err != nil {
			return
		}
		var last time.Time
		if !online {
			last = s.opts.Now()
		}
		s.hub.toOthers(p.userID, socket.EventUserOnline, presence(p.userID, online, last))

	case socket.EventDelete:
		d, err := decode.JSON[model.Deletion](data)
		if err != nil {
			return
		}
		if roomID, err := s.store.deleteMessage(p.userID, d.MessageID); err == nil {
			s.hub.toRoom(roomID, "", socket.EventMessageDeleted, model.Deletion{RoomID: roomID, MessageID: d.MessageID})
		}

	default:
		s.log.Debug("unknown event", zap.String("event", event))
	}
}
