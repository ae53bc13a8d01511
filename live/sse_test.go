package live

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSSESource_ParsesEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		fmt.Fprint(w, ": connected\n\n")
		fmt.Fprint(w, "event: stock\ndata: {\"id\":1,\"cantidad\":3}\n\n")
		fmt.Fprint(w, "data: first\r\ndata: second\r\n\r\n")
		flusher.Flush()
	}))
	defer srv.Close()

	sub, err := NewSSESource(srv.URL, srv.Client(), zap.NewNop()).Subscribe(context.Background())
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, `{"id":1,"cantidad":3}`, string(receive(t, sub.Messages())))
	assert.Equal(t, "first\nsecond", string(receive(t, sub.Messages())))

	select {
	case err := <-sub.Errors():
		assert.ErrorIs(t, err, errStreamClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("expected stream closed error")
	}
}

func TestSSESource_RejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewSSESource(srv.URL, srv.Client(), zap.NewNop()).Subscribe(context.Background())
	assert.Error(t, err)
}

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}
