// Package client calls the taskdesk services over Connect on behalf of one
// user.
package client

import (
	"context"
	"fmt"
	"net/http"

	"connectrpc.com/connect"

	"github.com/kazz187/taskdesk/pkg/connectjson"
)

type Client struct {
	httpClient connect.HTTPClient
	baseURL    string
	user       string
	opts       []connect.ClientOption
}

type Option func(*Client)

func WithHTTPClient(c connect.HTTPClient) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// New returns a client acting as user. apiKey may be empty for servers
// running without one.
func New(baseURL, apiKey, user string, opts ...Option) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		baseURL:    baseURL,
		user:       user,
	}
	for _, opt := range opts {
		opt(c)
	}
	if apiKey != "" {
		c.opts = append(c.opts, connect.WithInterceptors(&apiKeyInterceptor{key: apiKey}))
	}
	return c
}

func (c *Client) User() string {
	return c.user
}

func call[Req, Res any](ctx context.Context, c *Client, service, method string, req *Req) (*Res, error) {
	client := connectjson.NewClient[Req, Res](c.httpClient, c.baseURL, service, method, c.opts...)
	res, err := client.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return res.Msg, nil
}

type apiKeyInterceptor struct {
	key string
}

func (i *apiKeyInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		req.Header().Set("X-API-Key", i.key)
		return next(ctx, req)
	}
}

func (i *apiKeyInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return func(ctx context.Context, spec connect.Spec) connect.StreamingClientConn {
		conn := next(ctx, spec)
		conn.RequestHeader().Set("X-API-Key", i.key)
		return conn
	}
}

func (i *apiKeyInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}
