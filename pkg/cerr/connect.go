package cerr

import (
	"context"

	"connectrpc.com/connect"

	"github.com/kazz187/taskdesk/pkg/clog"
)

// Classifier names the kind of a handler error for the request log. An empty
// result records nothing.
type Classifier func(err error) string

type ConvertOption func(*convertConnectErrorInterceptor)

// WithClassifier records classify(err) under clog.KindAttributeKey before the
// error is converted, while its sentinels are still reachable.
func WithClassifier(classify Classifier) ConvertOption {
	return func(i *convertConnectErrorInterceptor) { i.classify = classify }
}

type convertConnectErrorInterceptor struct {
	classify Classifier
}

// NewConvertConnectErrorInterceptor turns handler errors into Connect errors
// carrying the cerr code and details.
func NewConvertConnectErrorInterceptor(opts ...ConvertOption) connect.Interceptor {
	i := &convertConnectErrorInterceptor{}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *convertConnectErrorInterceptor) convert(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if i.classify != nil {
		if kind := i.classify(err); kind != "" {
			clog.AddErrorKind(ctx, kind)
		}
	}
	return ExtractConnectError(ctx, err)
}

func (i *convertConnectErrorInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		resp, err := next(ctx, req)
		return resp, i.convert(ctx, err)
	}
}

func (i *convertConnectErrorInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (i *convertConnectErrorInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		return i.convert(ctx, next(ctx, conn))
	}
}
