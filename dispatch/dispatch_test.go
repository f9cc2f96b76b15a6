package dispatch

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anwerso/jsaction/domtree"
	"github.com/anwerso/jsaction/jsaction"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialServer(t *testing.T, s *Server) (*websocket.Conn, func()) {
	t.Helper()
	httpServer := httptest.NewServer(s)
	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn, func() {
		conn.Close()
		httpServer.Close()
	}
}

func TestCallbackWritesSingleRecordWithIsGlobal(t *testing.T) {
	s := New(nil)
	conn, cleanup := dialServer(t, s)
	defer cleanup()

	// ServeHTTP's upgrade happens synchronously on the incoming request,
	// but the client's Dial returns before the handler necessarily
	// finishes registering s.conn; give it a moment.
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.conn != nil
	}, time.Second, 5*time.Millisecond)

	target := &domtree.Node{BackendNodeID: "7", NodeName: "a"}
	cb := s.Callback()
	cb([]jsaction.Record{{
		EventType:     "click",
		Action:        "foo.bar",
		ActionElement: target,
		TargetElement: target,
		TimeStamp:     123.5,
	}}, true, false)

	var got wireMessage
	require.NoError(t, conn.ReadJSON(&got))
	require.NotNil(t, got.Record)
	require.True(t, got.IsGlobal)
	require.Equal(t, "click", got.Record.EventType)
	require.Equal(t, "foo.bar", got.Record.Action)
	require.Equal(t, "7", got.Record.ActionElement)
	require.Equal(t, "7", got.Record.TargetElement)
}

func TestCallbackWritesBatchForMultipleRecords(t *testing.T) {
	s := New(nil)
	conn, cleanup := dialServer(t, s)
	defer cleanup()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.conn != nil
	}, time.Second, 5*time.Millisecond)

	cb := s.Callback()
	cb([]jsaction.Record{
		{EventType: "click", Action: "foo"},
		{EventType: "click", Action: "bar"},
	}, false, true)

	var got wireMessage
	require.NoError(t, conn.ReadJSON(&got))
	require.Nil(t, got.Record)
	require.Len(t, got.Batch, 2)
	require.Equal(t, "foo", got.Batch[0].Action)
	require.Equal(t, "bar", got.Batch[1].Action)
}

// TestCallbackWritesBatchForSingleQueuedRecord guards against inferring
// batch framing from slice length: a one-record initial batch must
// still be wire-framed as a batch, not mistaken for a live single
// dispatch.
func TestCallbackWritesBatchForSingleQueuedRecord(t *testing.T) {
	s := New(nil)
	conn, cleanup := dialServer(t, s)
	defer cleanup()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.conn != nil
	}, time.Second, 5*time.Millisecond)

	cb := s.Callback()
	cb([]jsaction.Record{{EventType: "click", Action: "foo"}}, false, true)

	var got wireMessage
	require.NoError(t, conn.ReadJSON(&got))
	require.Nil(t, got.Record)
	require.Len(t, got.Batch, 1)
	require.Equal(t, "foo", got.Batch[0].Action)
}

func TestCallbackNoopsWithoutConnectedDispatcher(t *testing.T) {
	s := New(nil)
	// No dial: s.conn is nil. Must not panic or block.
	s.Callback()([]jsaction.Record{{EventType: "click"}}, false, false)
}

func TestCallbackIgnoresEmptyRecordSlice(t *testing.T) {
	s := New(nil)
	conn, cleanup := dialServer(t, s)
	defer cleanup()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.conn != nil
	}, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Callback()(nil, false, false)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Callback with an empty slice should return immediately")
	}

	conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	require.Error(t, err) // nothing was ever written
}

func TestSecondConnectionReplacesFirst(t *testing.T) {
	s := New(nil)
	first, cleanupFirst := dialServer(t, s)
	defer cleanupFirst()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.conn != nil
	}, time.Second, 5*time.Millisecond)

	second, cleanupSecond := dialServer(t, s)
	defer cleanupSecond()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.conn != nil
	}, time.Second, 5*time.Millisecond)

	// The first connection should observe a close once the second
	// connection replaces it server-side.
	first.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := first.ReadMessage()
	require.Error(t, err)

	_ = second
}
