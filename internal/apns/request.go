package apns

import (
	"bytes"
	"context"
	"net/http"
)

// Request is one gateway request as handed to a Transport.
type Request struct {
	Method string
	Path   string
	Body   []byte
	Header map[string]string

	tags []string
}

type RequestOption func(*Request)

func NewRequest(opts ...RequestOption) *Request {
	req := &Request{Method: http.MethodPost, Header: map[string]string{}}
	for _, opt := range opts {
		opt(req)
	}

	return req
}

// HTTPRequest builds the net/http form of r against baseURL.
func (r *Request) HTTPRequest(ctx context.Context, baseURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, r.Method, baseURL+r.Path, bytes.NewReader(r.Body))
	if err != nil {
		return nil, err
	}

	for k, v := range r.Header {
		req.Header.Set(k, v)
	}
	if len(r.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

func WithTags(tags []string) RequestOption {
	return func(req *Request) {
		req.tags = tags
	}
}

func WithMethod(method string) RequestOption {
	return func(req *Request) {
		req.Method = method
	}
}

func WithPath(path string) RequestOption {
	return func(req *Request) {
		req.Path = path
	}
}

func WithBody(body []byte) RequestOption {
	return func(req *Request) {
		req.Body = body
	}
}

func WithHeaders(headers map[string]string) RequestOption {
	return func(req *Request) {
		for k, v := range headers {
			req.Header[k] = v
		}
	}
}

func WithHeader(key, val string) RequestOption {
	return func(req *Request) {
		req.Header[key] = val
	}
}
