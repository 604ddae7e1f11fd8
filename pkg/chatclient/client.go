// Package chatclient talks to a running chat server over HTTP and
// WebSocket. *Client implements reconcile.Transport, so a Go process can
// drive a reconcile.Engine against the server.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/internal/reconcile"
	"github.com/gorilla/websocket"
)

const (
	defaultTimeout = 30 * time.Second
	resolveBatch   = 200
)

// Client is safe for concurrent use
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	dialer  *websocket.Dialer
}

var _ reconcile.Transport = (*Client)(nil)

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithDialer replaces the default WebSocket dialer
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// New creates a client for baseURL (e.g. https://chat.angple.com) that
// authenticates with the given bearer token
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope struct {
	Success bool              `json:"success"`
	Data    json.RawMessage   `json:"data"`
	Error   *common.ErrorInfo `json:"error"`
}

// Append submits one message; AuthorID is taken from the token
func (c *Client) Append(ctx context.Context, req *domain.AppendRequest) (*domain.Message, error) {
	var msg domain.Message
	path := "/api/v1/scopes/" + url.PathEscape(req.ScopeID) + "/messages"
	if err := c.doJSON(ctx, http.MethodPost, path, req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Upload sends one file as multipart form data
func (c *Client) Upload(ctx context.Context, f *reconcile.File) (*domain.Attachment, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", f.Filename)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(f.Data); err != nil {
		return nil, err
	}
	if f.Duration != nil {
		if err := mw.WriteField("duration", strconv.FormatFloat(*f.Duration, 'f', -1, 64)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/attachments", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var att domain.Attachment
	if err := c.do(req, &att); err != nil {
		// 업로드 실패는 전송 실패와 구분한다
		if !common.IsUploadError(err) && !errors.Is(err, common.ErrValidation) {
			err = &common.UploadError{Filename: f.Filename, Err: err}
		}
		return nil, err
	}
	return &att, nil
}

// FetchRecent returns one page ending before q.Before (newest when empty)
func (c *Client) FetchRecent(ctx context.Context, scopeID string, q reconcile.PageQuery) (*domain.MessagePage, error) {
	v := url.Values{}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Before != "" {
		v.Set("before", q.Before)
	}
	path := "/api/v1/scopes/" + url.PathEscape(scopeID) + "/messages"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}

	var page domain.MessagePage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Resolve looks ids up in batches the server accepts
func (c *Client) Resolve(ctx context.Context, ids []string) (map[string]*domain.Message, error) {
	out := make(map[string]*domain.Message, len(ids))
	for start := 0; start < len(ids); start += resolveBatch {
		end := start + resolveBatch
		if end > len(ids) {
			end = len(ids)
		}
		var found map[string]*domain.Message
		body := map[string][]string{"ids": ids[start:end]}
		if err := c.doJSON(ctx, http.MethodPost, "/api/v1/messages/resolve", body, &found); err != nil {
			return nil, err
		}
		for id, m := range found {
			out[id] = m
		}
	}
	return out, nil
}

// SetReaction sets the caller's membership idempotently
func (c *Client) SetReaction(ctx context.Context, messageID, kind string, active bool) (*domain.ReactionState, error) {
	var st domain.ReactionState
	path := "/api/v1/messages/" + url.PathEscape(messageID) + "/reactions"
	body := map[string]interface{}{"kind": kind, "active": active}
	if err := c.doJSON(ctx, http.MethodPut, path, body, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Delete soft-deletes one of the caller's messages
func (c *Client) Delete(ctx context.Context, messageID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/messages/"+url.PathEscape(messageID), nil, nil)
}

// Purge hard-deletes one of the caller's messages
func (c *Client) Purge(ctx context.Context, messageID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/messages/"+url.PathEscape(messageID)+"?hard=true", nil, nil)
}

// ReplyPreview fetches the preview of a reply target
func (c *Client) ReplyPreview(ctx context.Context, messageID string) (*domain.Preview, error) {
	var p domain.Preview
	path := "/api/v1/messages/" + url.PathEscape(messageID) + "/reply-preview"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%w: decode response: %v", common.ErrTransient, err)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: decode data: %v", common.ErrTransient, err)
	}
	return nil
}

// decodeError maps an error response back onto the taxonomy
func decodeError(resp *http.Response) error {
	var env envelope
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	code, message := "", http.StatusText(resp.StatusCode)
	if json.Unmarshal(data, &env) == nil && env.Error != nil {
		code, message = env.Error.Code, env.Error.Message
		if env.Error.Details != "" && env.Error.Details != message {
			message = env.Error.Details
		}
	}
	return common.ErrorFromStatus(resp.StatusCode, code, message)
}

// transportError classifies failures that never produced a response
func transportError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return common.FromContext(err)
	}
	return fmt.Errorf("%w: %v", common.ErrTransient, err)
}
