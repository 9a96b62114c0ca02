package monitor

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/livepeer/mediaindex-core/internal/task"
)

func TestFeedHandlerStreamsTransitionEvents(t *testing.T) {
	m := New()
	srv := httptest.NewServer(NewFeedHandler(m))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	now := time.Now()
	tk := task.New(task.TypeScanFile, nil, 0, now)
	m.Add(&tk)
	time.Sleep(10 * time.Millisecond)
	require.True(t, m.Transition(tk.ID, task.StatusRunning, now))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var got wsEvent
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, tk.ID.String(), got.TaskID)
	require.Equal(t, string(task.StatusRunning), got.To)
}
