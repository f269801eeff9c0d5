package roster

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"DMProject/logger"
	"DMProject/module/dm/model"
	"DMProject/service/socket"
	"DMProject/tools/clock"
	"DMProject/tools/decode"
	"DMProject/tools/errs"
	"DMProject/tools/safe"

	"go.uber.org/zap"
)

// API is the REST surface the room list needs.
type API interface {
	GetRooms(ctx context.Context) ([]any, error)
	GetRoom(ctx context.Context, roomID string) (model.Raw, error)
	StartChat(ctx context.Context, otherUserID string) (model.Raw, error)
	MarkRead(ctx context.Context, roomID string) error
	ArchiveRoom(ctx context.Context, roomID string) error
	MuteRoom(ctx context.Context, roomID string) error
	SocietyUsers(ctx context.Context, societyID string) ([]any, error)
}

type Options struct {
	// Society resolves the society whose directory is the fallback for an empty room list.
	Society func(ctx context.Context) (string, error)
	Clock   clock.Clock
	Logger  *zap.Logger
}

type Snapshot struct {
	Version   uint64
	Loaded    bool
	Rooms     []model.Room
	Directory []model.User
	Presence  []model.Presence // sorted by user id
	LastError error
}

// Visible drops archived rooms.
func (s Snapshot) Visible() []model.Room {
	out := make([]model.Room, 0, len(s.Rooms))
	for _, r := range s.Rooms {
		if !r.Archived {
			out = append(out, r)
		}
	}
	return out
}

// Aggregator keeps the room list and presence set, whichever room is open.
type Aggregator struct {
	link  socket.Link
	api   API
	opts  Options
	clock clock.Clock
	log   *zap.Logger

	mu        sync.Mutex
	gen       uint64
	running   bool
	subs      []socket.Subscription
	loaded    bool
	rooms     []model.Room
	directory []model.User
	presence  map[string]model.Presence
	lastErr   error
	version   uint64
	nextObs   uint64
	observers map[uint64]func(Snapshot)
}

func New(link socket.Link, api API, opts Options) *Aggregator {
	safe.MustNotNil(link, "link")
	safe.MustNotNil(api, "api")
	return &Aggregator{
		link:      link,
		api:       api,
		opts:      opts,
		clock:     clock.Or(opts.Clock),
		log:       logger.Named(opts.Logger, "roster"),
		presence:  make(map[string]model.Presence),
		observers: make(map[uint64]func(Snapshot)),
	}
}

// Start connects and attaches the event handlers. Calling it again is a no-op.
func (a *Aggregator) Start(ctx context.Context) error {
	if err := a.link.Connect(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = true
	a.gen++
	gen := a.gen
	a.mu.Unlock()

	subs := []socket.Subscription{
		a.link.Subscribe(socket.EventNewMessage, func(d json.RawMessage) { a.onNewMessage(gen, d) }),
		a.link.Subscribe(socket.EventUserOnline, func(d json.RawMessage) { a.onUserOnline(gen, d) }),
		a.link.Subscribe(socket.EventReconnected, func(json.RawMessage) { a.onReconnected(gen) }),
	}
	a.mu.Lock()
	a.subs = subs
	a.mu.Unlock()
	return nil
}

// Stop detaches the handlers; the collected state is kept.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	a.gen++
	subs := a.subs
	a.subs = nil
	a.mu.Unlock()
	for _, s := range subs {
		a.link.Unsubscribe(s)
	}
}

// LoadRooms replaces the room list from the backend. An empty list pulls in the
// society directory so there is always someone to start a chat with.
func (a *Aggregator) LoadRooms(ctx context.Context) error {
	list, err := a.api.GetRooms(ctx)
	if err != nil {
		a.log.Warn("room list fetch failed", zap.Error(err))
		return a.fail(errs.ErrFetchFailed.Because(err, "rooms"))
	}
	rooms := model.NormalizeRooms(list)

	var users []model.User
	if len(rooms) == 0 {
		users, err = a.loadDirectory(ctx)
		if err != nil {
			return a.fail(err)
		}
	}

	a.mu.Lock()
	a.rooms = rooms
	a.directory = users
	a.loaded = true
	a.lastErr = nil
	snap, obs := a.commitLocked()
	a.mu.Unlock()
	a.notify(snap, obs)
	a.log.Info("rooms loaded", zap.Int("rooms", len(rooms)), zap.Int("directory", len(users)))
	return nil
}

func (a *Aggregator) loadDirectory(ctx context.Context) ([]model.User, error) {
	if a.opts.Society == nil {
		return nil, nil
	}
	societyID, err := a.opts.Society(ctx)
	if err != nil {
		return nil, errs.ErrFetchFailed.Because(err, "society id")
	}
	if societyID == "" {
		a.log.Warn("room list empty and no society configured")
		return nil, nil
	}
	list, err := a.api.SocietyUsers(ctx, societyID)
	if err != nil {
		a.log.Warn("directory fetch failed", zap.String("society", societyID), zap.Error(err))
		return nil, errs.ErrFetchFailed.Because(err, "directory", "society", societyID)
	}
	return model.NormalizeUsers(list), nil
}

func (a *Aggregator) fail(err error) error {
	a.mu.Lock()
	a.lastErr = err
	snap, obs := a.commitLocked()
	a.mu.Unlock()
	a.notify(snap, obs)
	return err
}

func (a *Aggregator) indexLocked(roomID string) int {
	for i := range a.rooms {
		if a.rooms[i].ID == roomID {
			return i
		}
	}
	return -1
}

// upsertLocked replaces a known room in place or puts a new one first.
func (a *Aggregator) upsertLocked(r model.Room) {
	if i := a.indexLocked(r.ID); i >= 0 {
		a.rooms[i] = r
		return
	}
	a.rooms = append([]model.Room{r}, a.rooms...)
}

func (a *Aggregator) live(gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running && a.gen == gen
}

func (a *Aggregator) onNewMessage(gen uint64, data json.RawMessage) {
	raw, err := model.RawMessage(data)
	if err != nil {
		a.log.Warn("bad newMessage payload", zap.Error(err))
		return
	}
	m, ok := model.NormalizeMessage(raw, a.clock.Now())
	if !ok {
		return
	}
	self := a.link.UserID()

	a.mu.Lock()
	if !a.running || a.gen != gen {
		a.mu.Unlock()
		return
	}
	i := a.indexLocked(m.RoomID)
	if i < 0 {
		a.mu.Unlock()
		a.log.Debug("message for unknown room ignored", zap.String("room", m.RoomID))
		return
	}
	r := &a.rooms[i]
	r.LastMsg = m.Text
	if r.LastMsg == "" && m.Attachment != nil {
		r.LastMsg = m.Attachment.Name
	}
	r.LastMsgTime = m.CreatedAt
	if m.SenderID != self {
		r.Unread++
	}
	snap, obs := a.commitLocked()
	a.mu.Unlock()
	a.notify(snap, obs)
}

func (a *Aggregator) onUserOnline(gen uint64, data json.RawMessage) {
	p, err := decode.JSON[model.OnlineStatus](data)
	if err != nil || p.UserID == "" {
		a.log.Warn("bad userOnlineStatus payload", zap.Error(err))
		return
	}
	a.mu.Lock()
	if !a.running || a.gen != gen {
		a.mu.Unlock()
		return
	}
	a.presence[p.UserID] = p.Presence(a.clock.Now())
	snap, obs := a.commitLocked()
	a.mu.Unlock()
	a.notify(snap, obs)
}

func (a *Aggregator) onReconnected(gen uint64) {
	if !a.live(gen) {
		return
	}
	safe.Go(a.log, "roster reload", func() {
		if err := a.LoadRooms(context.Background()); err != nil {
			a.log.Warn("reload after reconnect failed", zap.Error(err))
		}
	})
}

// StartChat asks the backend for the room shared with otherUserID and lists it.
func (a *Aggregator) StartChat(ctx context.Context, otherUserID string) (model.Room, error) {
	if otherUserID == "" {
		return model.Room{}, errs.ErrInvalidArgument.WrapMsg("empty user id")
	}
	raw, err := a.api.StartChat(ctx, otherUserID)
	if err != nil {
		return model.Room{}, errs.ErrRequestFailed.Because(err, "start chat", "user", otherUserID)
	}
	r, ok := model.NormalizeRoom(raw)
	if !ok {
		return model.Room{}, errs.ErrRequestFailed.WrapMsg("start chat returned no room", "user", otherUserID)
	}
	if r.Other.ID == "" {
		r.Other.ID = otherUserID
	}
	a.mu.Lock()
	a.upsertLocked(r)
	snap, obs := a.commitLocked()
	a.mu.Unlock()
	a.notify(snap, obs)
	return r, nil
}

// RoomDetails refreshes one room from the backend.
func (a *Aggregator) RoomDetails(ctx context.Context, roomID string) (model.Room, error) {
	raw, err := a.api.GetRoom(ctx, roomID)
	if err != nil {
		return model.Room{}, errs.ErrFetchFailed.Because(err, "room", "room", roomID)
	}
	r, ok := model.NormalizeRoom(raw)
	if !ok {
		return model.Room{}, errs.ErrFetchFailed.WrapMsg("empty room", "room", roomID)
	}
	a.mu.Lock()
	a.upsertLocked(r)
	snap, obs := a.commitLocked()
	a.mu.Unlock()
	a.notify(snap, obs)
	return r, nil
}

// MarkRoomRead zeroes the unread counter at once. A backend failure is returned
// but the counter stays zero.
func (a *Aggregator) MarkRoomRead(ctx context.Context, roomID string) error {
	a.ClearUnread(roomID)
	if err := a.api.MarkRead(ctx, roomID); err != nil {
		a.log.Warn("mark room read failed, local state kept", zap.String("room", roomID), zap.Error(err))
		return errs.ErrReadFailed.Because(err, "", "room", roomID)
	}
	return nil
}

// ClearUnread zeroes the counter locally, for a room whose session already
// sent the read receipt.
func (a *Aggregator) ClearUnread(roomID string) {
	a.mu.Lock()
	i := a.indexLocked(roomID)
	if i < 0 || a.rooms[i].Unread == 0 {
		a.mu.Unlock()
		return
	}
	a.rooms[i].Unread = 0
	snap, obs := a.commitLocked()
	a.mu.Unlock()
	a.notify(snap, obs)
}

// ArchiveRoom flags the room once the backend accepts; archived rooms stay listed
// but drop out of Visible.
func (a *Aggregator) ArchiveRoom(ctx context.Context, roomID string) error {
	if err := a.api.ArchiveRoom(ctx, roomID); err != nil {
		return errs.ErrRequestFailed.Because(err, "archive", "room", roomID)
	}
	a.setFlag(roomID, func(r *model.Room) { r.Archived = true })
	return nil
}

func (a *Aggregator) MuteRoom(ctx context.Context, roomID string) error {
	if err := a.api.MuteRoom(ctx, roomID); err != nil {
		return errs.ErrRequestFailed.Because(err, "mute", "room", roomID)
	}
	a.setFlag(roomID, func(r *model.Room) { r.Muted = true })
	return nil
}

func (a *Aggregator) setFlag(roomID string, set func(*model.Room)) {
	a.mu.Lock()
	i := a.indexLocked(roomID)
	if i < 0 {
		a.mu.Unlock()
		return
	}
	set(&a.rooms[i])
	snap, obs := a.commitLocked()
	a.mu.Unlock()
	a.notify(snap, obs)
}

// Filter matches visible rooms on participant name or preview and directory
// entries on name or email, ignoring case. An empty query matches everything.
func (a *Aggregator) Filter(query string) ([]model.Room, []model.User) {
	q := strings.ToLower(strings.TrimSpace(query))
	snap := a.Snapshot()
	rooms := snap.Visible()
	if q == "" {
		return rooms, snap.Directory
	}
	var outRooms []model.Room
	for _, r := range rooms {
		if r.Matches(q) {
			outRooms = append(outRooms, r)
		}
	}
	var outUsers []model.User
	for _, u := range snap.Directory {
		if u.Matches(q) {
			outUsers = append(outUsers, u)
		}
	}
	return outRooms, outUsers
}

func (a *Aggregator) IsOnline(userID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.presence[userID].Online
}

// LastSeen is meaningful only for a user currently offline.
func (a *Aggregator) LastSeen(userID string) (model.Presence, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.presence[userID]
	return p, ok
}

func (a *Aggregator) Room(roomID string) (model.Room, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i := a.indexLocked(roomID); i >= 0 {
		return a.rooms[i], true
	}
	return model.Room{}, false
}

func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Aggregator) Subscribe(fn func(Snapshot)) (cancel func()) {
	safe.MustNotNil(fn, "observer")
	a.mu.Lock()
	a.nextObs++
	id := a.nextObs
	a.observers[id] = fn
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		delete(a.observers, id)
		a.mu.Unlock()
	}
}

func (a *Aggregator) snapshotLocked() Snapshot {
	online := make([]model.Presence, 0, len(a.presence))
	for _, p := range a.presence {
		online = append(online, p)
	}
	sort.Slice(online, func(i, j int) bool { return online[i].UserID < online[j].UserID })
	return Snapshot{
		Version:   a.version,
		Loaded:    a.loaded,
		Rooms:     append([]model.Room(nil), a.rooms...),
		Directory: append([]model.User(nil), a.directory...),
		Presence:  online,
		LastError: a.lastErr,
	}
}

func (a *Aggregator) commitLocked() (Snapshot, []func(Snapshot)) {
	a.version++
	obs := make([]func(Snapshot), 0, len(a.observers))
	for _, fn := range a.observers {
		obs = append(obs, fn)
	}
	return a.snapshotLocked(), obs
}

func (a *Aggregator) notify(snap Snapshot, obs []func(Snapshot)) {
	for _, fn := range obs {
		_ = safe.Call(a.log, "roster observer", func() { fn(snap) })
	}
}
