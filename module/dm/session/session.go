package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"DMProject/logger"
	"DMProject/module/dm/model"
	"DMProject/service/socket"
	"DMProject/tools/clock"
	"DMProject/tools/errs"
	"DMProject/tools/ids"
	"DMProject/tools/safe"

	"go.uber.org/zap"
)

type State int

const (
	Idle State = iota
	Loading
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Active:
		return "active"
	case Closed:
		return "closed"
	default:
		return "idle"
	}
}

// API is the REST surface a room session needs.
type API interface {
	GetMessages(ctx context.Context, roomID string, limit int) ([]any, error)
	SendMessage(ctx context.Context, roomID string, msg model.Outgoing) (model.Raw, error)
	SendAttachment(ctx context.Context, roomID string, up model.Upload) (model.Raw, error)
	MarkRead(ctx context.Context, roomID string) error
	DeleteMessage(ctx context.Context, messageID string) error
}

type Options struct {
	PageSize     int
	TypingWindow time.Duration
	Clock        clock.Clock
	Logger       *zap.Logger
}

// Snapshot is an immutable copy of the session view state.
type Snapshot struct {
	Version      uint64
	State        State
	RoomID       string
	Messages     []model.Message // oldest first
	RemoteTyping bool
	Peer         model.Presence
	LastError    error
}

// Inverted returns the messages newest first.
func (s Snapshot) Inverted() []model.Message {
	out := make([]model.Message, len(s.Messages))
	for i, m := range s.Messages {
		out[len(out)-1-i] = m
	}
	return out
}

// Session is the live view of one open room.
type Session struct {
	link  socket.Link
	api   API
	guard *Guard
	opts  Options
	clock clock.Clock
	log   *zap.Logger

	mu      sync.Mutex
	state   State
	epoch   uint64
	version uint64
	roomID  string
	self    string
	seq     sequence
	subs    []socket.Subscription
	cancel  context.CancelFunc
	lastErr error
	focused bool
	peer    model.Presence

	remoteTyping bool
	remoteGen    uint64
	remoteTimer  clock.Timer
	localTyping  bool
	localGen     uint64
	localTimer   clock.Timer

	nextObs   uint64
	observers map[uint64]func(Snapshot)
}

func New(link socket.Link, api API, guard *Guard, opts Options) *Session {
	safe.MustNotNil(link, "link")
	safe.MustNotNil(api, "api")
	if guard == nil {
		guard = NewGuard()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 30
	}
	if opts.TypingWindow <= 0 {
		opts.TypingWindow = time.Second
	}
	return &Session{
		link:      link,
		api:       api,
		guard:     guard,
		opts:      opts,
		clock:     clock.Or(opts.Clock),
		log:       logger.Named(opts.Logger, "session"),
		observers: make(map[uint64]func(Snapshot)),
	}
}

type openConfig struct {
	peerID string
}

type OpenOption func(*openConfig)

// WithPeer names the other participant so their presence shows in the snapshot.
func WithPeer(userID string) OpenOption {
	return func(c *openConfig) { c.peerID = userID }
}

// Open joins roomID and loads its history. On a fetch failure the session stays
// Loading with LastError set and Retry can be used.
func (s *Session) Open(ctx context.Context, roomID string, opts ...OpenOption) error {
	if roomID == "" {
		return errs.ErrInvalidArgument.WrapMsg("empty room id")
	}
	var oc openConfig
	for _, o := range opts {
		o(&oc)
	}

	s.mu.Lock()
	if s.state == Loading || s.state == Active {
		s.mu.Unlock()
		return errs.ErrAlreadyOpenElsewhere.WrapMsg("session already open", "room", s.roomID)
	}
	if err := s.guard.acquire(s, roomID); err != nil {
		s.mu.Unlock()
		return err
	}
	s.epoch++
	epoch := s.epoch
	s.state = Loading
	s.roomID = roomID
	s.seq.reset()
	s.lastErr = nil
	s.remoteTyping = false
	s.localTyping = false
	s.peer = model.Presence{UserID: oc.peerID}
	fctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	snap, obs := s.commitLocked()
	s.mu.Unlock()
	s.notify(snap, obs)

	if err := s.link.Connect(ctx); err != nil {
		s.abort(epoch)
		return err
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return errs.ErrNotOpen.WrapMsg("closed while opening", "room", roomID)
	}
	s.self = s.link.UserID()
	s.mu.Unlock()

	// handlers go in before the fetch so live messages racing it are merged
	s.attach(epoch)
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return errs.ErrNotOpen.WrapMsg("closed while opening", "room", roomID)
	}
	// under the lock so a concurrent Close cannot emit leaveRoom first
	s.link.Emit(socket.EventJoinRoom, roomID)
	s.mu.Unlock()
	s.log.Info("room opened", zap.String("room", roomID))
	return s.load(fctx, epoch)
}

// abort returns a session that never got connected to Idle.
func (s *Session) abort(epoch uint64) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	s.epoch++
	s.state = Idle
	s.roomID = ""
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	snap, obs := s.commitLocked()
	s.mu.Unlock()
	s.guard.release(s)
	s.notify(snap, obs)
}

// Retry re-issues the history fetch of the open room.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Loading && s.state != Active {
		s.mu.Unlock()
		return errs.ErrNotOpen.Wrap()
	}
	epoch := s.epoch
	s.mu.Unlock()
	return s.load(ctx, epoch)
}

func (s *Session) load(ctx context.Context, epoch uint64) error {
	s.mu.Lock()
	room := s.roomID
	s.mu.Unlock()

	list, err := s.api.GetMessages(ctx, room, s.opts.PageSize)

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.log.Debug("history discarded, room no longer open", zap.String("room", room))
		return errs.ErrNotOpen.WrapMsg("closed while loading", "room", room)
	}
	if err != nil {
		s.lastErr = errs.ErrFetchFailed.Because(err, "history", "room", room)
		ret := s.lastErr
		snap, obs := s.commitLocked()
		s.mu.Unlock()
		s.notify(snap, obs)
		s.log.Warn("history fetch failed", zap.String("room", room), zap.Error(err))
		return ret
	}
	s.mergeHistoryLocked(list)
	s.state = Active
	s.lastErr = nil
	focused := s.focused
	snap, obs := s.commitLocked()
	s.mu.Unlock()
	s.notify(snap, obs)

	if focused {
		_ = s.MarkRead(ctx)
	}
	return nil
}

// mergeHistoryLocked applies a newest-first page.
func (s *Session) mergeHistoryLocked(list []any) {
	msgs := model.NormalizeMessages(list, s.clock.Now())
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.RoomID == "" {
			m.RoomID = s.roomID
		}
		s.seq.upsert(m)
	}
}

// refetch runs after a reconnect; missed events are not replayed by the server.
func (s *Session) refetch(epoch uint64) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	room := s.roomID
	ctx := context.Background()
	s.mu.Unlock()

	list, err := s.api.GetMessages(ctx, room, s.opts.PageSize)

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.log.Warn("refetch after reconnect failed", zap.String("room", room), zap.Error(err))
		return
	}
	s.mergeHistoryLocked(list)
	if s.state == Loading {
		s.state = Active
		s.lastErr = nil
	}
	snap, obs := s.commitLocked()
	s.mu.Unlock()
	s.notify(snap, obs)
}

// Close leaves the room. Handlers are detached before it returns.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state != Loading && s.state != Active {
		s.mu.Unlock()
		return
	}
	s.epoch++
	room := s.roomID
	subs := s.subs
	s.subs = nil
	cancel := s.cancel
	s.cancel = nil
	wasTyping := s.localTyping
	s.stopTimersLocked()
	s.localTyping = false
	s.remoteTyping = false
	s.state = Closed
	s.seq.reset()
	s.lastErr = nil
	snap, obs := s.commitLocked()
	s.mu.Unlock()

	for _, sub := range subs {
		s.link.Unsubscribe(sub)
	}
	if cancel != nil {
		cancel()
	}
	if wasTyping {
		s.link.Emit(socket.EventTyping, model.Typing{RoomID: room, UserID: s.self, IsTyping: false})
	}
	s.link.Emit(socket.EventLeaveRoom, room)
	s.guard.release(s)
	s.log.Info("room closed", zap.String("room", room))
	s.notify(snap, obs)
}

func (s *Session) stopTimersLocked() {
	if s.localTimer != nil {
		s.localTimer.Stop()
		s.localTimer = nil
	}
	if s.remoteTimer != nil {
		s.remoteTimer.Stop()
		s.remoteTimer = nil
	}
}

type sendConfig struct {
	replyTo string
}

type SendOption func(*sendConfig)

func WithReplyTo(messageID string) SendOption {
	return func(c *sendConfig) { c.replyTo = messageID }
}

// Send appends an optimistic copy, emits it live and persists it over REST. The
// confirmed message takes the optimistic copy's place; on failure it is removed.
func (s *Session) Send(ctx context.Context, text string, opts ...SendOption) (model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Message{}, errs.ErrEmptyMessage.Wrap()
	}
	var sc sendConfig
	for _, o := range opts {
		o(&sc)
	}

	s.mu.Lock()
	if s.state != Active {
		s.mu.Unlock()
		return model.Message{}, errs.ErrNotOpen.Wrap()
	}
	epoch, room := s.epoch, s.roomID
	tempID := ids.TempID()
	s.seq.upsert(model.Message{
		ID:        tempID,
		TempID:    tempID,
		RoomID:    room,
		SenderID:  s.self,
		Text:      text,
		Type:      model.TypeText,
		ReplyTo:   sc.replyTo,
		CreatedAt: s.clock.Now(),
		Status:    model.StatusSent,
		Pending:   true,
	})
	snap, obs := s.commitLocked()
	s.mu.Unlock()
	s.notify(snap, obs)

	s.link.Emit(socket.EventSendMessage, model.SendPayload{RoomID: room, Text: text, TempID: tempID})
	raw, err := s.api.SendMessage(ctx, room, model.Outgoing{
		Text:    text,
		Type:    model.TypeText,
		ReplyTo: sc.replyTo,
		TempID:  tempID,
	})

	s.mu.Lock()
	if err != nil {
		var snap Snapshot
		var obs []func(Snapshot)
		if s.epoch == epoch && s.seq.removePending(tempID) {
			snap, obs = s.commitLocked()
		}
		s.mu.Unlock()
		s.notify(snap, obs)
		s.log.Warn("send failed", zap.String("room", room), zap.String("tempId", tempID), zap.Error(err))
		return model.Message{}, errs.ErrSendFailed.Because(err, "", "room", room)
	}

	confirmed, ok := model.NormalizeMessage(raw, s.clock.Now())
	if !ok {
		// backend answered without a body; the optimistic copy stands as sent
		confirmed, ok = s.seq.get(tempID)
		if !ok || s.epoch != epoch {
			s.mu.Unlock()
			return model.Message{}, nil
		}
		confirmed.Pending = false
	}
	confirmed.TempID = tempID
	if confirmed.RoomID == "" {
		confirmed.RoomID = room
	}
	if confirmed.SenderID == "" {
		confirmed.SenderID = s.self
	}
	if s.epoch != epoch {
		s.mu.Unlock()
		return confirmed, nil
	}
	s.seq.upsert(confirmed)
	snap, obs = s.commitLocked()
	s.mu.Unlock()
	s.notify(snap, obs)
	return confirmed, nil
}

// SendAttachment uploads a file; the message appears only once the backend confirms it.
func (s *Session) SendAttachment(ctx context.Context, up model.Upload) (model.Message, error) {
	if up.Path == "" && len(up.Data) == 0 {
		return model.Message{}, errs.ErrInvalidArgument.WrapMsg("attachment has no content")
	}
	if up.Name == "" {
		return model.Message{}, errs.ErrInvalidArgument.WrapMsg("attachment has no name")
	}
	s.mu.Lock()
	if s.state != Active {
		s.mu.Unlock()
		return model.Message{}, errs.ErrNotOpen.Wrap()
	}
	epoch, room := s.epoch, s.roomID
	s.mu.Unlock()

	raw, err := s.api.SendAttachment(ctx, room, up)
	if err != nil {
		s.log.Warn("attachment failed", zap.String("room", room), zap.String("name", up.Name), zap.Error(err))
		return model.Message{}, errs.ErrSendFailed.Because(err, "attachment", "room", room)
	}
	m, ok := model.NormalizeMessage(raw, s.clock.Now())
	if !ok {
		return model.Message{}, errs.ErrSendFailed.WrapMsg("empty attachment response", "room", room)
	}
	if m.RoomID == "" {
		m.RoomID = room
	}
	if m.SenderID == "" {
		m.SenderID = s.link.UserID()
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return m, nil
	}
	s.seq.upsert(m)
	snap, obs := s.commitLocked()
	s.mu.Unlock()
	s.notify(snap, obs)
	return m, nil
}

// SetTypingState emits only edges. A true call (re)arms the silence window after
// which the false edge is emitted on its own.
func (s *Session) SetTypingState(isTyping bool) {
	s.mu.Lock()
	if s.state != Active {
		s.mu.Unlock()
		return
	}
	epoch, room := s.epoch, s.roomID
	edge := false
	if isTyping {
		s.localGen++
		gen := s.localGen
		if s.localTimer != nil {
			s.localTimer.Stop()
		}
		s.localTimer = s.clock.AfterFunc(s.opts.TypingWindow, func() { s.typingIdle(epoch, gen) })
		if !s.localTyping {
			s.localTyping = true
			edge = true
		}
	} else {
		if s.localTimer != nil {
			s.localTimer.Stop()
			s.localTimer = nil
		}
		if s.localTyping {
			s.localTyping = false
			edge = true
		}
	}
	self := s.self
	s.mu.Unlock()

	if edge {
		s.link.Emit(socket.EventTyping, model.Typing{RoomID: room, UserID: self, IsTyping: isTyping})
	}
}

func (s *Session) typingIdle(epoch, gen uint64) {
	s.mu.Lock()
	if s.epoch != epoch || s.localGen != gen || !s.localTyping {
		s.mu.Unlock()
		return
	}
	s.localTyping = false
	s.localTimer = nil
	room, self := s.roomID, s.self
	s.mu.Unlock()
	s.link.Emit(socket.EventTyping, model.Typing{RoomID: room, UserID: self, IsTyping: false})
}

// MarkRead marks the loaded messages read and sends the receipt. Repeating it is
// harmless. A REST failure is returned but the local state is kept.
func (s *Session) MarkRead(ctx context.Context) error {
	room, err := s.markReadLocal()
	if err != nil {
		return err
	}
	return s.markReadRemote(ctx, room)
}

// markReadLocal flips the loaded messages to read and emits markAsRead.
func (s *Session) markReadLocal() (string, error) {
	s.mu.Lock()
	if s.state != Active {
		s.mu.Unlock()
		return "", errs.ErrNotOpen.Wrap()
	}
	room := s.roomID
	var snap Snapshot
	var obs []func(Snapshot)
	if s.seq.markAllRead() {
		snap, obs = s.commitLocked()
	}
	s.mu.Unlock()
	s.notify(snap, obs)

	s.link.Emit(socket.EventMarkAsRead, room)
	return room, nil
}

func (s *Session) markReadRemote(ctx context.Context, room string) error {
	if err := s.api.MarkRead(ctx, room); err != nil {
		s.log.Warn("mark read failed", zap.String("room", room), zap.Error(err))
		return errs.ErrReadFailed.Because(err, "", "room", room)
	}
	return nil
}

// Focus tells the session whether it is on screen. A focused session marks the
// room read when it loads and on each message from someone else.
func (s *Session) Focus(ctx context.Context, focused bool) error {
	s.mu.Lock()
	was := s.focused
	s.focused = focused
	active := s.state == Active
	s.mu.Unlock()
	if focused && !was && active {
		return s.MarkRead(ctx)
	}
	return nil
}

// DeleteMessage replaces the message with the placeholder at once and deletes it
// on the backend. A backend failure is returned but not rolled back.
func (s *Session) DeleteMessage(ctx context.Context, messageID string) error {
	s.mu.Lock()
	if s.state != Active {
		s.mu.Unlock()
		return errs.ErrNotOpen.Wrap()
	}
	m, ok := s.seq.get(messageID)
	if !ok {
		s.mu.Unlock()
		return errs.ErrInvalidArgument.WrapMsg("unknown message", "id", messageID)
	}
	if m.Pending {
		s.mu.Unlock()
		return errs.ErrInvalidArgument.WrapMsg("message not confirmed yet", "id", messageID)
	}
	room := s.roomID
	var snap Snapshot
	var obs []func(Snapshot)
	if s.seq.markDeleted(messageID) {
		snap, obs = s.commitLocked()
	}
	s.mu.Unlock()
	s.notify(snap, obs)

	s.link.Emit(socket.EventDelete, model.Deletion{RoomID: room, MessageID: messageID})
	if err := s.api.DeleteMessage(ctx, messageID); err != nil {
		s.log.Warn("delete failed, local state kept", zap.String("room", room), zap.String("id", messageID), zap.Error(err))
		return errs.ErrDeleteFailed.Because(err, "", "id", messageID)
	}
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn for every new snapshot; the returned func removes it.
func (s *Session) Subscribe(fn func(Snapshot)) (cancel func()) {
	safe.MustNotNil(fn, "observer")
	s.mu.Lock()
	s.nextObs++
	id := s.nextObs
	s.observers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		Version:      s.version,
		State:        s.state,
		RoomID:       s.roomID,
		Messages:     s.seq.copy(),
		RemoteTyping: s.remoteTyping,
		Peer:         s.peer,
		LastError:    s.lastErr,
	}
}

func (s *Session) commitLocked() (Snapshot, []func(Snapshot)) {
	s.version++
	obs := make([]func(Snapshot), 0, len(s.observers))
	for _, fn := range s.observers {
		obs = append(obs, fn)
	}
	return s.snapshotLocked(), obs
}

func (s *Session) notify(snap Snapshot, obs []func(Snapshot)) {
	for _, fn := range obs {
		_ = safe.Call(s.log, "session observer", func() { fn(snap) })
	}
}
