package connectjson

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
)

func Procedure(service, method string) string {
	return "/" + service + "/" + method
}

// Service collects the handlers of one Connect service under its path prefix,
// the way generated NewXServiceHandler functions do.
type Service struct {
	name string
	mux  *http.ServeMux
	opts []connect.HandlerOption
}

func NewService(name string, opts ...connect.HandlerOption) *Service {
	return &Service{
		name: name,
		mux:  http.NewServeMux(),
		opts: append([]connect.HandlerOption{WithCodec()}, opts...),
	}
}

func Unary[Req, Res any](s *Service, method string, fn func(context.Context, *connect.Request[Req]) (*connect.Response[Res], error)) {
	procedure := Procedure(s.name, method)
	s.mux.Handle(procedure, connect.NewUnaryHandler(procedure, fn, s.opts...))
}

func ServerStream[Req, Res any](s *Service, method string, fn func(context.Context, *connect.Request[Req], *connect.ServerStream[Res]) error) {
	procedure := Procedure(s.name, method)
	s.mux.Handle(procedure, connect.NewServerStreamHandler(procedure, fn, s.opts...))
}

// Handler returns the path prefix and handler to mount on the server mux.
func (s *Service) Handler() (string, http.Handler) {
	return "/" + s.name + "/", s.mux
}

func NewClient[Req, Res any](httpClient connect.HTTPClient, baseURL, service, method string, opts ...connect.ClientOption) *connect.Client[Req, Res] {
	return connect.NewClient[Req, Res](httpClient, baseURL+Procedure(service, method), append([]connect.ClientOption{WithCodec()}, opts...)...)
}
