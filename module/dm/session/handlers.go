package session

import (
	"context"
	"encoding/json"

	"DMProject/module/dm/model"
	"DMProject/service/socket"
	"DMProject/tools/decode"
	"DMProject/tools/safe"

	"go.uber.org/zap"
)

// attach subscribes the room handlers for one open epoch. Each handler re-checks
// the epoch so a late delivery never touches a closed or reopened session.
func (s *Session) attach(epoch uint64) {
	table := map[string]func(uint64, json.RawMessage){
		socket.EventNewMessage:       s.onNewMessage,
		socket.EventUserTyping:       s.onUserTyping,
		socket.EventMessagesRead:     s.onMessagesRead,
		socket.EventMessageDeleted:   s.onMessageDeleted,
		socket.EventUserOnline:       s.onUserOnline,
		socket.EventReconnected:      s.onReconnected,
		socket.EventMessageError:     s.onMessageError,
		socket.EventMessageConfirmed: s.onMessageConfirmed,
	}
	subs := make([]socket.Subscription, 0, len(table))
	for event, fn := range table {
		fn := fn
		subs = append(subs, s.link.Subscribe(event, func(data json.RawMessage) { fn(epoch, data) }))
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		for _, sub := range subs {
			s.link.Unsubscribe(sub)
		}
		return
	}
	s.subs = append(s.subs, subs...)
	s.mu.Unlock()
}

func (s *Session) onNewMessage(epoch uint64, data json.RawMessage) {
	raw, err := model.RawMessage(data)
	if err != nil {
		s.log.Warn("bad newMessage payload", zap.Error(err))
		return
	}
	m, ok := model.NormalizeMessage(raw, s.clock.Now())
	if !ok {
		return
	}

	s.mu.Lock()
	if s.epoch != epoch || m.RoomID != s.roomID {
		s.mu.Unlock()
		return
	}
	s.seq.upsert(m)
	markRead := s.focused && s.state == Active && m.SenderID != s.self
	snap, obs := s.commitLocked()
	s.mu.Unlock()
	s.notify(snap, obs)

	// handlers run on the socket's dispatch goroutine; the REST leg must not block it
	if markRead {
		if room, err := s.markReadLocal(); err == nil {
			safe.Go(s.log, "session mark read", func() { _ = s.markReadRemote(context.Background(), room) })
		}
	}
}

func (s *Session) onUserTyping(epoch uint64, data json.RawMessage) {
	p, err := decode.JSON[model.Typing](data)
	if err != nil {
		s.log.Warn("bad userTyping payload", zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.epoch != epoch || p.RoomID != s.roomID || p.UserID == s.self {
		s.mu.Unlock()
		return
	}
	if s.remoteTimer != nil {
		s.remoteTimer.Stop()
		s.remoteTimer = nil
	}
	s.remoteGen++
	if p.IsTyping {
		gen := s.remoteGen
		s.remoteTimer = s.clock.AfterFunc(s.opts.TypingWindow, func() { s.remoteIdle(epoch, gen) })
	}
	if s.remoteTyping == p.IsTyping {
		s.mu.Unlock()
		return
	}
	s.remoteTyping = p.IsTyping
	snap, obs := s.commitLocked()
	s.mu.Unlock()
	s.notify(snap, obs)
}

// remoteIdle clears the remote flag after a silent window.
func (s *Session) remoteIdle(epoch, gen uint64) {
	s.mu.Lock()
	if s.epoch != epoch || s.remoteGen != gen || !s.remoteTyping {
		s.mu.Unlock()
		return
	}
	s.remoteTyping = false
	s.remoteTimer = nil
	snap, obs := s.commitLocked()
	s.mu.Unlock()
	s.notify(snap, obs)
}

func (s *Session) onMessagesRead(epoch uint64, data json.RawMessage) {
	p, err := decode.JSON[model.RoomRead](data)
	if err != nil {
		s.log.Warn("bad messagesRead payload", zap.Error(err))
		return
	}
	s.mu.Lock()
	if s.epoch != epoch || p.RoomID != s.roomID || !s.seq.markAllRead() {
		s.mu.Unlock()
		return
	}
	snap, obs := s.commitLocked()
	s.mu.Unlock()
	s.notify(snap, obs)
}

func (s *Session) onMessageDeleted(epoch uint64, data json.RawMessage) {
	p, err := decode.JSON[model.Deletion](data)
	if err != nil {
		s.log.Warn("bad messageDeleted payload", zap.Error(err))
		return
	}
	s.mu.Lock()
	if s.epoch != epoch || p.RoomID != s.roomID || !s.seq.markDeleted(p.MessageID) {
		s.mu.Unlock()
		return
	}
	snap, obs := s.commitLocked()
	s.mu.Unlock()
	s.notify(snap, obs)
}

func (s *Session) onUserOnline(epoch uint64, data json.RawMessage) {
	p, err := decode.JSON[model.OnlineStatus](data)
	if err != nil {
		s.log.Warn("bad userOnlineStatus payload", zap.Error(err))
		return
	}
	s.mu.Lock()
	if s.epoch != epoch || s.peer.UserID == "" || p.UserID != s.peer.UserID {
		s.mu.Unlock()
		return
	}
	s.peer = p.Presence(s.clock.Now())
	snap, obs := s.commitLocked()
	s.mu.Unlock()
	s.notify(snap, obs)
}

func (s *Session) onReconnected(epoch uint64, _ json.RawMessage) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	room := s.roomID
	s.mu.Unlock()

	s.link.Emit(socket.EventJoinRoom, room)
	s.log.Info("rejoined after reconnect", zap.String("room", room))
	safe.Go(s.log, "session refetch", func() { s.refetch(epoch) })
}

func (s *Session) onMessageError(epoch uint64, data json.RawMessage) {
	if s.current(epoch) {
		s.log.Warn("server rejected live send", zap.ByteString("payload", data))
	}
}

func (s *Session) onMessageConfirmed(epoch uint64, data json.RawMessage) {
	if s.current(epoch) {
		s.log.Debug("live send confirmed", zap.ByteString("payload", data))
	}
}

func (s *Session) current(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch == epoch
}
