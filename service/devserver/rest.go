package devserver

import (
	"io"
	"net/http"
	"strconv"

	"DMProject/module/dm/model"
	"DMProject/service/socket"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const maxUpload = 8 << 20

func (s *Server) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": s.store.roomsOf(userOf(c))})
}

func (s *Server) getRoom(c *gin.Context) {
	r, err := s.store.room(userOf(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": r})
}

type createRoomRequest struct {
	OtherUserID string `json:"otherUserId"`
}

func (s *Server) createRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errBadInput.Because(err, "create room"))
		return
	}
	r, err := s.store.createRoom(userOf(c), req.OtherUserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": r})
}

func (s *Server) getMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "30"))
	list, err := s.store.history(userOf(c), c.Param("id"), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": list})
}

func (s *Server) postMessage(c *gin.Context) {
	var req model.Outgoing
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errBadInput.Because(err, "message"))
		return
	}
	s.persist(c, incoming{Text: req.Text, Type: req.Type, ReplyTo: req.ReplyTo, TempID: req.TempID})
}

func (s *Server) postAttachment(c *gin.Context) {
	fh, err := c.FormFile("attachment")
	if err != nil {
		fail(c, errBadInput.Because(err, "attachment"))
		return
	}
	if fh.Size > maxUpload {
		fail(c, errBadInput.WrapMsg("attachment too large", "size", fh.Size))
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, errBadInput.Because(err, "attachment"))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		fail(c, errBadInput.Because(err, "attachment"))
		return
	}
	mime := fh.Header.Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	s.persist(c, incoming{
		Text:    c.PostForm("text"),
		Type:    c.DefaultPostForm("message_type", model.TypeFile),
		ReplyTo: c.PostForm("reply_to"),
		File:    &file{ID: uuid.NewString(), Name: fh.Filename, Type: mime, Data: data},
	})
}

// persist stores the message and, when new, fans newMessage out to both members.
func (s *Server) persist(c *gin.Context, in incoming) {
	roomID := c.Param("id")
	m, created, err := s.store.addMessage(userOf(c), roomID, in)
	if err != nil {
		fail(c, err)
		return
	}
	if created {
		s.hub.toUsers(s.store.members(roomID), socket.EventNewMessage, m)
	}
	c.JSON(http.StatusCreated, gin.H{"message": m})
}

func (s *Server) markRead(c *gin.Context) {
	roomID := c.Param("id")
	user := userOf(c)
	if err := s.store.markRead(user, roomID); err != nil {
		fail(c, err)
		return
	}
	s.hub.toRoom(roomID, user, socket.EventMessagesRead, model.RoomRead{RoomID: roomID})
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) archive(c *gin.Context) {
	s.flag(c, func(r *room) map[string]bool { return r.Archived })
}

func (s *Server) mute(c *gin.Context) {
	s.flag(c, func(r *room) map[string]bool { return r.Muted })
}

func (s *Server) flag(c *gin.Context, which func(*room) map[string]bool) {
	if err := s.store.setFlag(userOf(c), c.Param("id"), which); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) deleteMessage(c *gin.Context) {
	id := c.Param("id")
	roomID, err := s.store.deleteMessage(userOf(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	s.hub.toRoom(roomID, "", socket.EventMessageDeleted, model.Deletion{RoomID: roomID, MessageID: id})
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) messageStatus(c *gin.Context) {
	st, err := s.store.messageStatus(userOf(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) societyUsers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": s.store.societyUsers(c.Param("id"), userOf(c))})
}

func (s *Server) getFile(c *gin.Context) {
	f, ok := s.store.file(c.Param("id"))
	if !ok {
		fail(c, errNotFound.WrapMsg("file"))
		return
	}
	c.Header("Content-Disposition", "inline; filename="+strconv.Quote(f.Name))
	c.Data(http.StatusOK, f.Type, f.Data)
}
