package connectjson

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoRequest struct {
	Text string `json:"text"`
}

type echoResponse struct {
	Text  string `json:"text"`
	Count int    `json:"count"`
}

func TestCodec_UnaryRoundTrip(t *testing.T) {
	const procedure = "/test.v1.EchoService/Echo"
	mux := http.NewServeMux()
	mux.Handle(procedure, connect.NewUnaryHandler(procedure,
		func(_ context.Context, req *connect.Request[echoRequest]) (*connect.Response[echoResponse], error) {
			return connect.NewResponse(&echoResponse{Text: req.Msg.Text, Count: len(req.Msg.Text)}), nil
		},
		WithCodec(),
	))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := connect.NewClient[echoRequest, echoResponse](srv.Client(), srv.URL+procedure, WithCodec())
	res, err := client.CallUnary(context.Background(), connect.NewRequest(&echoRequest{Text: "claim"}))
	require.NoError(t, err)
	assert.Equal(t, "claim", res.Msg.Text)
	assert.Equal(t, 5, res.Msg.Count)
}

func TestCodec_RejectsUnknownFields(t *testing.T) {
	var msg echoRequest
	assert.Error(t, Codec{}.Unmarshal([]byte(`{"text":"a","extra":1}`), &msg))
	assert.NoError(t, Codec{}.Unmarshal(nil, &msg))
}
