package devserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"DMProject/logger"
	"DMProject/tools/errs"
	"DMProject/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Options struct {
	JWTSecret  string
	TokenTTL   time.Duration
	APIPrefix  string // default /dm
	SocketPath string // default /socket
	Users      []User
	Logger     *zap.Logger
	Now        func() time.Time
}

// Server is an in-memory stand-in for the messaging backend: the REST surface
// under APIPrefix and the event socket at SocketPath.
type Server struct {
	opts     Options
	jwt      security.Options
	log      *zap.Logger
	store    *store
	hub      *hub
	upgrader websocket.Upgrader
}

func New(opts Options) *Server {
	if opts.APIPrefix == "" {
		opts.APIPrefix = "/dm"
	}
	if opts.SocketPath == "" {
		opts.SocketPath = "/socket"
	}
	if opts.JWTSecret == "" {
		opts.JWTSecret = "dev-secret"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Users == nil {
		opts.Users = DefaultUsers()
	}
	jwtOpts := security.DefaultOptions([]byte(opts.JWTSecret))
	if opts.TokenTTL > 0 {
		jwtOpts.TTL = opts.TokenTTL
	}
	log := logger.Named(opts.Logger, "devserver")
	s := &Server{
		opts:  opts,
		jwt:   jwtOpts,
		log:   log,
		store: newStore(opts.Now, opts.APIPrefix+"/files/"),
		hub:   newHub(log, opts.Now),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, u := range opts.Users {
		s.store.addUser(u)
	}
	return s
}

// DefaultUsers seeds a small society so a fresh server is usable.
func DefaultUsers() []User {
	return []User{
		{ID: "u-asha", Name: "Asha Rao", Email: "asha@greenpark.example", SocietyID: "greenpark"},
		{ID: "u-bilal", Name: "Bilal Khan", Email: "bilal@greenpark.example", SocietyID: "greenpark"},
		{ID: "u-chen", Name: "Chen Wei", Email: "chen@greenpark.example", SocietyID: "greenpark"},
		{ID: "u-dana", Name: "Dana Ortiz", Email: "dana@lakeside.example", SocietyID: "lakeside"},
	}
}

// AddUser registers a resident at runtime.
func (s *Server) AddUser(u User) { s.store.addUser(u) }

// Token signs a token for a known user.
func (s *Server) Token(userID string) (string, time.Time, error) {
	if _, ok := s.store.user(userID); !ok {
		return "", time.Time{}, errNotFound.WrapMsg("user", "user", userID)
	}
	return security.Generate(s.jwt, userID, []string{"dm"})
}

// Router builds the gin engine serving REST and socket.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.POST("/auth/token", s.issueToken)
	r.GET(s.opts.SocketPath, s.auth(), s.handleWS)

	api := r.Group(s.opts.APIPrefix, s.auth())
	api.GET("/rooms", s.listRooms)
	api.POST("/rooms/create", s.createRoom)
	api.GET("/rooms/:id", s.getRoom)
	api.GET("/rooms/:id/messages", s.getMessages)
	api.POST("/rooms/:id/messages", s.postMessage)
	api.POST("/rooms/:id/messages/attachment", s.postAttachment)
	api.POST("/rooms/:id/read", s.markRead)
	api.POST("/rooms/:id/archive", s.archive)
	api.POST("/rooms/:id/mute", s.mute)
	api.DELETE("/messages/:id", s.deleteMessage)
	api.GET("/messages/:id/status", s.messageStatus)
	api.GET("/society/:id/users", s.societyUsers)
	api.GET("/files/:id", s.getFile)
	return r
}

// Run serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("dev backend listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}

// fail maps coded errors onto their HTTP status.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if code := errs.Code(err); code >= 400 && code < 600 {
		status = code
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
