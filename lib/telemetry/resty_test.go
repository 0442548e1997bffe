package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestTraceRestyBodylessRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resty.New()
	TraceResty(client, "hashdive/lib/telemetry/test")

	res, err := client.R().Get(server.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode())

	res, err = client.R().SetBody("user_address=0xabc").Post(server.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode())
}

func TestInstrumentRequestBody(t *testing.T) {
	_, span := noop.NewTracerProvider().Tracer("test").Start(context.Background(), "body")

	nilReader, err := http.NewRequest(http.MethodGet, "http://hashdive.test/", nil)
	require.NoError(t, err)
	nilReader.Body = io.NopCloser(strings.NewReader(""))
	nilReader.GetBody = func() (io.ReadCloser, error) { return nil, nil }

	noBody, err := http.NewRequest(http.MethodGet, "http://hashdive.test/", http.NoBody)
	require.NoError(t, err)

	for _, req := range []*http.Request{nil, nilReader, noBody} {
		require.NotPanics(t, func() { instrumentRequestBody(span, req) })
	}
}
