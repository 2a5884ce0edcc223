// Package httpjson is the HTTP-JSON adapter used by remote providers.
// It turns a prepared request body plus an auth descriptor into one POST,
// maps the response status onto the shared error kinds, and extracts a
// single string field from the response by key path.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/parleyhq/parley/internal/fault"
)

// AuthKind selects how the credential is attached to a request.
type AuthKind int

const (
	AuthNone AuthKind = iota
	AuthBearer
	AuthHeader
	AuthURLParam
)

// Auth describes provider authentication. Name is the header or query
// parameter name (unused for bearer auth); Value is the credential.
type Auth struct {
	Kind  AuthKind
	Name  string
	Value string
}

// Header is one extra request header. Order of application is preserved.
type Header struct {
	Name  string
	Value string
}

// Response is the façade over an HTTP reply: status plus the full body.
// The body is returned even for non-2xx statuses so callers can log it.
type Response struct {
	Status int
	Body   []byte
}

// DefaultTimeout bounds a single POST when the caller supplies no deadline.
const DefaultTimeout = 60 * time.Second

// Client issues JSON POST requests.
type Client struct {
	hc *http.Client
}

// NewClient creates a client with the given per-request timeout.
// A zero timeout falls back to DefaultTimeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{hc: &http.Client{Timeout: timeout}}
}

// PostJSON sends body unchanged to url and reads the full response.
// URL-param auth appends ?<name>=<value>; the caller guarantees url carries
// no existing query. Content-Type is always application/json. Bearer auth
// sets Authorization; header auth sets the named header. Extra headers are
// applied in order after auth. A non-2xx status yields both a non-nil
// Response and a classified error; the caller decides what to do with the
// body.
func (c *Client) PostJSON(ctx context.Context, url string, body []byte, auth Auth, extra []Header) (*Response, error) {
	const op = "httpjson.PostJSON"

	if url == "" {
		return nil, fault.New(fault.NullArg, op, "empty url")
	}
	if auth.Kind == AuthURLParam {
		url = fmt.Sprintf("%s?%s=%s", url, auth.Name, auth.Value)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fault.Wrap(fault.InvalidValue, op, err)
	}

	req.Header.Set("Content-Type", "application/json")
	switch auth.Kind {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+auth.Value)
	case AuthHeader:
		req.Header.Set(auth.Name, auth.Value)
	case AuthNone, AuthURLParam:
	}
	for _, h := range extra {
		req.Header.Set(h.Name, h.Value)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.Socket, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrap(fault.IO, op, err)
	}

	out := &Response{Status: resp.StatusCode, Body: data}
	if err := StatusError(op, resp.StatusCode); err != nil {
		return out, err
	}
	return out, nil
}

// StatusError maps an HTTP status onto the shared error kinds.
// 2xx maps to nil.
func StatusError(op string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusBadRequest:
		return fault.Errorf(fault.HTTPBadRequest, op, "status %d", status)
	case status == http.StatusUnauthorized:
		return fault.Errorf(fault.HTTPAuth, op, "status %d", status)
	case status == http.StatusForbidden:
		return fault.Errorf(fault.HTTPForbidden, op, "status %d", status)
	case status == http.StatusNotFound:
		return fault.Errorf(fault.HTTPNotFound, op, "status %d", status)
	case status == http.StatusTooManyRequests:
		return fault.Errorf(fault.HTTPRateLimit, op, "status %d", status)
	case status >= 500:
		return fault.Errorf(fault.HTTPServer, op, "status %d", status)
	default:
		return fault.Errorf(fault.HTTPStatus, op, "status %d", status)
	}
}

// ExtractStringByPath returns the string at the ordered key path inside a
// JSON document. Objects are descended by key; an array node is scanned in
// order for the first element that satisfies the remainder of the path,
// which covers vendor responses that nest content inside lists, e.g. path
// ["content","text"] over {"content":[{"text":"OK"}]}. A missing key or a
// non-string terminal is a format error.
func ExtractStringByPath(data []byte, path []string) (string, error) {
	const op = "httpjson.ExtractStringByPath"

	if len(path) == 0 {
		return "", fault.New(fault.NullArg, op, "empty path")
	}

	var root any
	if err := json.Unmarshal(data, &root); err != nil {
		return "", fault.Wrap(fault.Format, op, err)
	}

	s, ok := walkPath(root, path)
	if !ok {
		return "", fault.Errorf(fault.Format, op, "no string at path %v", path)
	}
	return s, nil
}

func walkPath(node any, path []string) (string, bool) {
	if len(path) == 0 {
		s, ok := node.(string)
		return s, ok
	}

	switch n := node.(type) {
	case map[string]any:
		v, ok := n[path[0]]
		if !ok {
			return "", false
		}
		return walkPath(v, path[1:])
	case []any:
		for _, elem := range n {
			if s, ok := walkPath(elem, path); ok {
				return s, true
			}
		}
	}
	return "", false
}
