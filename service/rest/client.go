package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"DMProject/logger"
	"DMProject/module/dm/model"
	"DMProject/tools/errs"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// TokenSource yields the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// HTTPError is a non-2xx answer from the backend.
type HTTPError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

type Options struct {
	BaseURL string // ServerURL + APIPrefix
	Timeout time.Duration
	Logger  *zap.Logger
}

// Client is the REST collaborator of the messaging core.
type Client struct {
	http   *resty.Client
	tokens TokenSource
	log    *zap.Logger
}

func New(opts Options, tokens TokenSource) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	h := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json")
	return &Client{http: h, tokens: tokens, log: logger.Named(opts.Logger, "rest")}
}

func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, errs.ErrAuthMissing.Because(err, "read token")
	}
	if tok == "" {
		return nil, errs.ErrAuthMissing.Wrap()
	}
	return c.http.R().SetContext(ctx).SetAuthToken(tok), nil
}

// do executes r and decodes the JSON body, which may be empty.
func (c *Client) do(r *resty.Request, method, path string) (any, error) {
	start := time.Now()
	resp, err := r.Execute(method, path)
	if err != nil {
		c.log.Warn("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return nil, err
	}
	c.log.Debug("request", zap.String("method", method), zap.String("path", path),
		zap.Int("status", resp.StatusCode()), zap.Duration("took", time.Since(start)))
	if resp.IsError() {
		return nil, &HTTPError{Method: method, Path: path, Status: resp.StatusCode(), Body: resp.String()}
	}
	if len(resp.Body()) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("%s %s: decode body: %w", method, path, err)
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, method, path string, build func(*resty.Request)) (any, error) {
	r, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	if build != nil {
		build(r)
	}
	return c.do(r, method, path)
}

// list accepts a bare array or an object wrapping one under the given keys.
func list(body any, keys ...string) []any {
	switch v := body.(type) {
	case []any:
		return v
	case map[string]any:
		for _, k := range append(keys, "data") {
			if l, ok := v[k].([]any); ok {
				return l
			}
		}
	}
	return nil
}

// object accepts an object, optionally wrapped under the given keys.
func object(body any, keys ...string) model.Raw {
	m, ok := body.(map[string]any)
	if !ok {
		return nil
	}
	for _, k := range append(keys, "data") {
		if inner, ok := m[k].(map[string]any); ok {
			return inner
		}
	}
	return m
}

func (c *Client) GetRooms(ctx context.Context) ([]any, error) {
	body, err := c.call(ctx, http.MethodGet, "/rooms", nil)
	return list(body, "rooms"), err
}

func (c *Client) GetRoom(ctx context.Context, roomID string) (model.Raw, error) {
	body, err := c.call(ctx, http.MethodGet, "/rooms/{id}", func(r *resty.Request) {
		r.SetPathParam("id", roomID)
	})
	return object(body, "room"), err
}

// GetMessages returns the newest limit messages of a room, newest first.
func (c *Client) GetMessages(ctx context.Context, roomID string, limit int) ([]any, error) {
	body, err := c.call(ctx, http.MethodGet, "/rooms/{id}/messages", func(r *resty.Request) {
		r.SetPathParam("id", roomID)
		if limit > 0 {
			r.SetQueryParam("limit", strconv.Itoa(limit))
		}
	})
	return list(body, "messages"), err
}

func (c *Client) SendMessage(ctx context.Context, roomID string, msg model.Outgoing) (model.Raw, error) {
	if msg.Type == "" {
		msg.Type = model.TypeText
	}
	body, err := c.call(ctx, http.MethodPost, "/rooms/{id}/messages", func(r *resty.Request) {
		r.SetPathParam("id", roomID).SetBody(msg)
	})
	return object(body, "message"), err
}

// SendAttachment uploads a file as multipart field "attachment".
func (c *Client) SendAttachment(ctx context.Context, roomID string, up model.Upload) (model.Raw, error) {
	body, err := c.call(ctx, http.MethodPost, "/rooms/{id}/messages/attachment", func(r *resty.Request) {
		r.SetPathParam("id", roomID)
		if up.Path != "" {
			r.SetFile("attachment", up.Path)
		} else {
			r.SetMultipartField("attachment", up.Name, up.Type, bytes.NewReader(up.Data))
		}
		form := map[string]string{"text": up.Text, "message_type": up.MessageType()}
		if up.ReplyTo != "" {
			form["reply_to"] = up.ReplyTo
		}
		r.SetFormData(form)
	})
	return object(body, "message"), err
}

func (c *Client) MarkRead(ctx context.Context, roomID string) error {
	_, err := c.call(ctx, http.MethodPost, "/rooms/{id}/read", func(r *resty.Request) {
		r.SetPathParam("id", roomID).SetBody(map[string]any{})
	})
	return err
}

func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	_, err := c.call(ctx, http.MethodDelete, "/messages/{id}", func(r *resty.Request) {
		r.SetPathParam("id", messageID)
	})
	return err
}

func (c *Client) MessageStatus(ctx context.Context, messageID string) (model.Raw, error) {
	body, err := c.call(ctx, http.MethodGet, "/messages/{id}/status", func(r *resty.Request) {
		r.SetPathParam("id", messageID)
	})
	return object(body), err
}

// StartChat creates or fetches the room shared with otherUserID.
func (c *Client) StartChat(ctx context.Context, otherUserID string) (model.Raw, error) {
	body, err := c.call(ctx, http.MethodPost, "/rooms/create", func(r *resty.Request) {
		r.SetBody(map[string]string{"otherUserId": otherUserID})
	})
	return object(body, "room"), err
}

func (c *Client) ArchiveRoom(ctx context.Context, roomID string) error {
	_, err := c.call(ctx, http.MethodPost, "/rooms/{id}/archive", func(r *resty.Request) {
		r.SetPathParam("id", roomID).SetBody(map[string]any{})
	})
	return err
}

func (c *Client) MuteRoom(ctx context.Context, roomID string) error {
	_, err := c.call(ctx, http.MethodPost, "/rooms/{id}/mute", func(r *resty.Request) {
		r.SetPathParam("id", roomID).SetBody(map[string]any{})
	})
	return err
}

func (c *Client) SocietyUsers(ctx context.Context, societyID string) ([]any, error) {
	body, err := c.call(ctx, http.MethodGet, "/society/{id}/users", func(r *resty.Request) {
		r.SetPathParam("id", societyID)
	})
	return list(body, "users"), err
}
