package apns_test

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christianselig/apns/internal/apns"
)

func newHTTP2Server(t *testing.T, h http.HandlerFunc) (*httptest.Server, *tls.Config) {
	t.Helper()

	srv := httptest.NewUnstartedServer(h)
	srv.EnableHTTP2 = true
	srv.StartTLS()
	t.Cleanup(srv.Close)

	tlsConfig := srv.Client().Transport.(*http.Transport).TLSClientConfig.Clone()
	tlsConfig.NextProtos = []string{"h2"}

	return srv, tlsConfig
}

func TestHTTPTransport(t *testing.T) {
	t.Parallel()

	id := uuid.Must(uuid.NewV4())

	srv, tlsConfig := newHTTP2Server(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, 2, r.ProtoMajor)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/3/device/abc123", r.URL.Path)
		assert.Equal(t, "com.example.app", r.Header.Get("apns-topic"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, `{"aps":{"alert":"hi"}}`, string(body))

		w.Header().Set("apns-id", id.String())
		w.WriteHeader(http.StatusOK)
	})

	tr := apns.NewHTTPTransport(tlsConfig, srv.URL)
	defer tr.CloseIdleConnections()

	req := apns.NewRequest(
		apns.WithPath("/3/device/abc123"),
		apns.WithBody([]byte(`{"aps":{"alert":"hi"}}`)),
		apns.WithHeader("apns-topic", "com.example.app"),
	)

	resp, err := tr.Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id.String(), resp.HeaderValue("APNS-ID"))
}

func TestClientOverHTTP2(t *testing.T) {
	t.Parallel()

	srv, tlsConfig := newHTTP2Server(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
		_, _ = w.Write([]byte(`{"reason":"Unregistered","timestamp":1600000000}`))
	})

	c, err := apns.NewClient(nil, apns.WithTransport(apns.NewHTTPTransport(tlsConfig, srv.URL)))
	require.NoError(t, err)

	n, err := apns.NewNotification(apns.WithAlert("hi"))
	require.NoError(t, err)

	_, err = c.Push(context.Background(), n, "abc123")
	assert.ErrorIs(t, err, apns.ErrUnregistered)
}

func TestResponseHeaderValue(t *testing.T) {
	t.Parallel()

	var empty apns.Response
	assert.Equal(t, "", empty.HeaderValue("apns-id"))

	resp := apns.Response{Header: http.Header{"Apns-Id": []string{"x"}}}
	assert.Equal(t, "x", resp.HeaderValue("apns-id"))
}
