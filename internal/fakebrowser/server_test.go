package fakebrowser

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/guseggert/maestro/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	s := NewServer(WithLogger(logger))
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Close() })
	return s
}

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, s.URL(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, frame string) []map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(frame)))

	var frames []map[string]any
	for {
		_, b, err := conn.Read(ctx)
		require.NoError(t, err)
		var m map[string]any
		require.NoError(t, json.Unmarshal(b, &m))
		frames = append(frames, m)
		if _, ok := m["id"]; ok {
			return frames
		}
	}
}

func TestVersionEndpoint(t *testing.T) {
	s := startServer(t)

	resp, err := http.Get(s.BaseURL() + "/json/version")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var v versionInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	assert.Equal(t, s.URL(), v.WebSocketDebuggerURL)
	assert.Equal(t, protocolVersion, v.ProtocolVersion)
}

func TestCreateTargetEmitsEventBeforeResponse(t *testing.T) {
	s := startServer(t)
	conn := dial(t, s)

	frames := roundTrip(t, conn, `{"id":1,"method":"Target.setDiscoverTargets","params":{"discover":true}}`)
	require.Len(t, frames, 1)

	frames = roundTrip(t, conn, `{"id":2,"method":"Target.createTarget","params":{"url":"about:blank"}}`)
	require.Len(t, frames, 2)
	assert.Equal(t, "Target.targetCreated", frames[0]["method"])
	result := frames[1]["result"].(map[string]any)
	assert.NotEmpty(t, result["targetId"])

	resp, err := http.Get(s.BaseURL() + "/json/list")
	require.NoError(t, err)
	defer resp.Body.Close()
	var entries []listEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, result["targetId"], entries[0].ID)
}

func TestPageCommandsNeedASession(t *testing.T) {
	s := startServer(t)
	conn := dial(t, s)

	frames := roundTrip(t, conn, `{"id":1,"method":"Page.navigate","params":{"url":"about:blank"}}`)
	errObj := frames[0]["error"].(map[string]any)
	assert.EqualValues(t, codeMethodNotFound, errObj["code"])
}

func TestCustomHandler(t *testing.T) {
	s := startServer(t)
	s.Handle("Custom.fail", func(ctx context.Context, req Request) (any, error) {
		return nil, &protocol.ProtocolError{Code: 7, Message: "nope"}
	})
	conn := dial(t, s)

	frames := roundTrip(t, conn, `{"id":3,"method":"Custom.fail","params":{}}`)
	errObj := frames[0]["error"].(map[string]any)
	assert.EqualValues(t, 7, errObj["code"])
	assert.Equal(t, "nope", errObj["message"])

	reqs := s.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Custom.fail", reqs[0].Method)
}

func TestBrowserCloseEndsServing(t *testing.T) {
	s := startServer(t)
	conn := dial(t, s)

	frames := roundTrip(t, conn, `{"id":1,"method":"Browser.close","params":{}}`)
	assert.Contains(t, frames[0], "result")

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not report done")
	}
}
