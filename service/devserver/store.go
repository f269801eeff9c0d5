package devserver

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"DMProject/module/dm/model"
	"DMProject/tools/errs"
	"DMProject/tools/ids"

	"github.com/google/uuid"
)

var (
	errNotFound  = errs.NewCodeError(http.StatusNotFound, "not found")
	errForbidden = errs.NewCodeError(http.StatusForbidden, "forbidden")
	errBadInput  = errs.NewCodeError(http.StatusBadRequest, "bad request")
)

// User is a resident known to the dev backend.
type User struct {
	ID        string `json:"_id" yaml:"id"`
	Name      string `json:"Name" yaml:"name"`
	Email     string `json:"Email" yaml:"email"`
	Avatar    string `json:"avatar,omitempty" yaml:"avatar"`
	SocietyID string `json:"society_id" yaml:"society"`
}

type message struct {
	ID        string
	TempID    string
	RoomID    string
	SenderID  string
	Text      string
	Type      string
	ReplyTo   string
	Status    string
	CreatedAt time.Time
	DeletedAt *time.Time
	File      *file
}

type file struct {
	ID   string
	Name string
	Type string
	Data []byte
}

type room struct {
	ID       string
	Members  [2]string
	LastMsg  string
	LastTime time.Time
	Unread   map[string]int
	Archived map[string]bool
	Muted    map[string]bool
	Messages []*message // oldest first
}

func (r *room) member(userID string) bool {
	return r.Members[0] == userID || r.Members[1] == userID
}

func (r *room) other(userID string) string {
	if r.Members[0] == userID {
		return r.Members[1]
	}
	return r.Members[0]
}

// incoming is a message as submitted over either path.
type incoming struct {
	Text    string
	Type    string
	ReplyTo string
	TempID  string
	File    *file
}

// store is the whole backend state, in memory.
type store struct {
	mu       sync.Mutex
	now      func() time.Time
	fileBase string
	node     *ids.Node
	users    map[string]User
	rooms    map[string]*room
	byPair   map[string]string
	messages map[string]*message
	byTemp   map[string]string
	files    map[string]*file
}

func newStore(now func() time.Time, fileBase string) *store {
	if now == nil {
		now = time.Now
	}
	return &store{
		now:      now,
		fileBase: fileBase,
		node:     ids.NewNode(7),
		users:    map[string]User{},
		rooms:    map[string]*room{},
		byPair:   map[string]string{},
		messages: map[string]*message{},
		byTemp:   map[string]string{},
		files:    map[string]*file{},
	}
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

func (s *store) addUser(u User) {
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
}

func (s *store) user(id string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	return u, ok
}

func (s *store) memberRoomLocked(userID, roomID string) (*room, error) {
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, errNotFound.WrapMsg("room", "room", roomID)
	}
	if !r.member(userID) {
		return nil, errForbidden.WrapMsg("not a member", "room", roomID)
	}
	return r, nil
}

func (s *store) roomViewLocked(r *room, userID string) map[string]any {
	other := s.users[r.other(userID)]
	v := map[string]any{
		"id":       r.ID,
		"other":    map[string]any{"_id": other.ID, "name": other.Name, "avatar": other.Avatar},
		"last_msg": r.LastMsg,
		"unread":   r.Unread[userID],
		"archived": r.Archived[userID],
		"muted":    r.Muted[userID],
	}
	if !r.LastTime.IsZero() {
		v["last_msg_time"] = r.LastTime.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func (s *store) messageViewLocked(m *message) map[string]any {
	sender := s.users[m.SenderID]
	v := map[string]any{
		"_id":             m.ID,
		"room_id":         m.RoomID,
		"sender_id":       m.SenderID,
		"sender_name":     sender.Name,
		"sender_avatar":   sender.Avatar,
		"text":            m.Text,
		"message_type":    m.Type,
		"delivery_status": m.Status,
		"created_at":      m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if m.TempID != "" {
		v["tempId"] = m.TempID
	}
	if m.ReplyTo != "" {
		v["reply_to"] = m.ReplyTo
	}
	if m.File != nil {
		v["attachment_url"] = s.fileBase + m.File.ID
		v["attachment_name"] = m.File.Name
		v["attachment_type"] = m.File.Type
	}
	if m.DeletedAt != nil {
		v["deleted_at"] = m.DeletedAt.UTC().Format(time.RFC3339Nano)
		v["text"] = model.DeletedText
	}
	return v
}

// rooms lists userID's rooms, most recent activity first.
func (s *store) roomsOf(userID string) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*room
	for _, r := range s.rooms {
		if r.member(userID) {
			list = append(list, r)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].LastTime.Equal(list[j].LastTime) {
			return list[i].LastTime.After(list[j].LastTime)
		}
		return list[i].ID < list[j].ID
	})
	out := make([]any, 0, len(list))
	for _, r := range list {
		out = append(out, s.roomViewLocked(r, userID))
	}
	return out
}

func (s *store) room(userID, roomID string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.memberRoomLocked(userID, roomID)
	if err != nil {
		return nil, err
	}
	return s.roomViewLocked(r, userID), nil
}

func (s *store) members(roomID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		return r.Members[:]
	}
	return nil
}

// createRoom returns the room shared by the pair, creating it on first use.
func (s *store) createRoom(userID, otherID string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if otherID == "" || otherID == userID {
		return nil, errBadInput.WrapMsg("other user", "user", otherID)
	}
	if _, ok := s.users[otherID]; !ok {
		return nil, errNotFound.WrapMsg("user", "user", otherID)
	}
	key := pairKey(userID, otherID)
	if id, ok := s.byPair[key]; ok {
		return s.roomViewLocked(s.rooms[id], userID), nil
	}
	r := &room{
		ID:       uuid.NewString(),
		Members:  [2]string{userID, otherID},
		Unread:   map[string]int{},
		Archived: map[string]bool{},
		Muted:    map[string]bool{},
	}
	s.rooms[r.ID] = r
	s.byPair[key] = r.ID
	return s.roomViewLocked(r, userID), nil
}

// history returns up to limit messages, newest first.
func (s *store) history(userID, roomID string, limit int) ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.memberRoomLocked(userID, roomID)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, limit)
	for i := len(r.Messages) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, s.messageViewLocked(r.Messages[i]))
	}
	return out, nil
}

// addMessage stores a message. A repeat of (sender, temp id) returns the first
// copy with created=false, so the live and REST paths of one send collapse.
func (s *store) addMessage(userID, roomID string, in incoming) (view map[string]any, created bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.memberRoomLocked(userID, roomID)
	if err != nil {
		return nil, false, err
	}
	if strings.TrimSpace(in.Text) == "" && in.File == nil {
		return nil, false, errBadInput.WrapMsg("empty message")
	}
	if in.TempID != "" {
		if id, ok := s.byTemp[userID+"|"+in.TempID]; ok {
			m := s.messages[id]
			if m.ReplyTo == "" {
				m.ReplyTo = in.ReplyTo
			}
			return s.messageViewLocked(m), false, nil
		}
	}
	if in.Type == "" {
		in.Type = model.TypeText
	}
	m := &message{
		ID:        s.node.NextString(),
		TempID:    in.TempID,
		RoomID:    roomID,
		SenderID:  userID,
		Text:      in.Text,
		Type:      in.Type,
		ReplyTo:   in.ReplyTo,
		Status:    model.StatusSent,
		CreatedAt: s.now(),
		File:      in.File,
	}
	if m.File != nil {
		s.files[m.File.ID] = m.File
	}
	s.messages[m.ID] = m
	if m.TempID != "" {
		s.byTemp[userID+"|"+m.TempID] = m.ID
	}
	r.Messages = append(r.Messages, m)
	r.LastMsg = m.Text
	if r.LastMsg == "" && m.File != nil {
		r.LastMsg = m.File.Name
	}
	r.LastTime = m.CreatedAt
	r.Unread[r.other(userID)]++
	return s.messageViewLocked(m), true, nil
}

// markRead flags every message the other member sent as read.
func (s *store) markRead(userID, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.memberRoomLocked(userID, roomID)
	if err != nil {
		return err
	}
	for _, m := range r.Messages {
		if m.SenderID != userID {
			m.Status = model.StatusRead
		}
	}
	r.Unread[userID] = 0
	return nil
}

// deleteMessage soft-deletes a message; only its sender may. Repeats are no-ops.
func (s *store) deleteMessage(userID, messageID string) (roomID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return "", errNotFound.WrapMsg("message", "message", messageID)
	}
	if m.SenderID != userID {
		return "", errForbidden.WrapMsg("not the sender", "message", messageID)
	}
	if m.DeletedAt == nil {
		now := s.now()
		m.DeletedAt = &now
	}
	return m.RoomID, nil
}

func (s *store) messageStatus(userID, messageID string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil, errNotFound.WrapMsg("message", "message", messageID)
	}
	if _, err := s.memberRoomLocked(userID, m.RoomID); err != nil {
		return nil, err
	}
	return map[string]any{"_id": m.ID, "delivery_status": m.Status, "deleted": m.DeletedAt != nil}, nil
}

func (s *store) setFlag(userID, roomID string, flag func(*room) map[string]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.memberRoomLocked(userID, roomID)
	if err != nil {
		return err
	}
	flag(r)[userID] = true
	return nil
}

func (s *store) societyUsers(societyID, except string) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []User
	for _, u := range s.users {
		if u.SocietyID == societyID && u.ID != except {
			list = append(list, u)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	out := make([]any, 0, len(list))
	for _, u := range list {
		out = append(out, u)
	}
	return out
}

func (s *store) file(id string) (*file, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	return f, ok
}
