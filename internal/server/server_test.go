package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/oszuidwest/zwfm-audioplane/internal/capture"
	"github.com/oszuidwest/zwfm-audioplane/internal/config"
	"github.com/oszuidwest/zwfm-audioplane/internal/pipeline"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testKey = "test-key-0123456789"

type fixture struct {
	cfg *config.Config
	p   *pipeline.Pipeline
	srv *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	body, err := json.Marshal(map[string]any{
		"system":   map[string]any{"api_key": testKey},
		"eventlog": map[string]any{"path": filepath.Join(dir, "events.jsonl")},
		"archive":  map[string]any{"dir": filepath.Join(dir, "recordings")},
		"frontend": map[string]any{"samples_per_frame": 480},
	})
	require.NoError(t, err)
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, body, 0o600))
	cfg := config.New(path)
	require.NoError(t, cfg.Load())

	snap := cfg.Snapshot()
	p, err := pipeline.New(pipeline.Options{
		Config:        snap,
		Source:        &capture.ToneSource{Frequency: 440, SampleRate: 48000, Amplitude: 0.5},
		CapturePeriod: time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- p.Run(ctx) }()

	s := New(Options{Config: cfg, Pipeline: p})
	s.statusInterval = 50 * time.Millisecond
	srv := httptest.NewServer(s.Routes())

	t.Cleanup(func() {
		srv.Close()
		cancel()
		assert.NoError(t, <-runDone)
	})
	return &fixture{cfg: cfg, p: p, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path, key string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, http.NoBody)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestAPIKeyAuth(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = f.do(t, http.MethodGet, "/api/status", "wrong")
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = f.do(t, http.MethodGet, "/api/status?key="+testKey, "")
	assert.Equal(t, http.StatusOK, code)

	require.NoError(t, f.cfg.SetAPIKey(""))
	code, _ = f.do(t, http.MethodGet, "/api/status", testKey)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/api/status", testKey)
	require.Equal(t, http.StatusOK, code)

	var msg StatusMessage
	require.NoError(t, json.Unmarshal([]byte(body), &msg))
	assert.Equal(t, "status", msg.Type)
	assert.False(t, msg.Pipeline.Running)
	assert.Equal(t, types.StateInactive, msg.Pipeline.FrontEnd.State)
	assert.Equal(t, types.CodecLPCM, msg.Pipeline.Config.Codec)
	assert.Equal(t, "dev", msg.Version.Current)
}

func TestSessionEndpoints(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/api/session/start", testKey)
	require.Equal(t, http.StatusOK, code, body)
	assert.Contains(t, body, "session_started")
	assert.True(t, f.p.Running())

	code, _ = f.do(t, http.MethodPost, "/api/session/start", testKey)
	assert.Equal(t, http.StatusConflict, code)

	code, body = f.do(t, http.MethodPost, "/api/session/stop", testKey)
	require.Equal(t, http.StatusOK, code, body)
	code, _ = f.do(t, http.MethodPost, "/api/session/stop", testKey)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = f.do(t, http.MethodGet, "/api/session/start", testKey)
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "audioplane_memhandle_free_segments")
}

func TestVersionEndpointIsPublic(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/api/version", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"current":"dev"`)
}

// wsClient reads command results, skipping status pushes.
type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	seq  int
}

func (f *fixture) dial(t *testing.T) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?key=" + testKey
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return &wsClient{t: t, conn: conn}
}

type wsResult struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

func (c *wsClient) command(typ string, data any) wsResult {
	c.t.Helper()
	c.seq++
	id := fmt.Sprintf("c%d", c.seq)
	cmd := map[string]any{"type": typ, "id": id}
	if data != nil {
		cmd["data"] = data
	}
	require.NoError(c.t, c.conn.WriteJSON(cmd))

	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	for {
		var res wsResult
		require.NoError(c.t, c.conn.ReadJSON(&res))
		if res.Type == typ+"_result" {
			assert.Equal(c.t, id, res.ID, "response echoes the command id")
			return res
		}
	}
}

func TestWebSocketPushesStatus(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)

	var msg StatusMessage
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, c.conn.ReadJSON(&msg))
	assert.Equal(t, "status", msg.Type)
}

func TestWebSocketRejectsMissingKey(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketSession(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)

	res := c.command("session/start", nil)
	require.True(t, res.Success, string(res.Error))
	assert.Contains(t, string(res.Data), "session")

	res = c.command("frontend/set_mic_gain", map[string]any{"gains": []int{100, -300}})
	require.True(t, res.Success, string(res.Error))
	var reply types.Reply
	require.NoError(t, json.Unmarshal(res.Data, &reply))
	assert.Equal(t, types.ResultOK, reply.Result)
	assert.Equal(t, "set_mic_gain", reply.Command)

	res = c.command("session/start", nil)
	assert.False(t, res.Success)
	assert.Contains(t, string(res.Error), "already running")

	res = c.command("session/stop", nil)
	require.True(t, res.Success, string(res.Error))
	assert.False(t, f.p.Running())
}

func TestWebSocketMixerCommands(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)

	res := c.command("mixer/activate", map[string]any{"handle": 1, "device": "headphone"})
	require.True(t, res.Success, string(res.Error))

	res = c.command("mixer/clock_recovery", map[string]any{"handle": 1, "direction": 1, "times": 3})
	require.True(t, res.Success, string(res.Error))
	clock := f.p.Status().Mixer.Renderers[1].ClockRecovery
	assert.Equal(t, 3, clock.Times)

	res = c.command("mixer/deactivate", map[string]any{"handle": 1})
	require.True(t, res.Success, string(res.Error))

	res = c.command("mixer/deactivate", map[string]any{"handle": 5})
	assert.False(t, res.Success)
	assert.Contains(t, string(res.Error), "COMMAND_PARAM_HANDLE")

	res = c.command("mixer/clock_recovery", map[string]any{"handle": 0, "direction": 1, "times": 1})
	assert.False(t, res.Success)
	assert.Contains(t, string(res.Error), "STATE_VIOLATION")
}

func TestWebSocketValidation(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)

	res := c.command("frontend/set_mic_gain", map[string]any{"gains": []int{999}})
	assert.False(t, res.Success)
	assert.Contains(t, string(res.Error), "gains[0]")
	assert.Contains(t, string(res.Error), "less than or equal to 210")

	res = c.command("mixer/deactivate", map[string]any{})
	assert.False(t, res.Success)
	assert.Contains(t, string(res.Error), `"field":"handle"`)

	res = c.command("bogus/thing", nil)
	assert.False(t, res.Success)
	assert.Contains(t, string(res.Error), "unknown command")
}

func TestWebSocketSettings(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)

	res := c.command("settings/mixer_device", map[string]any{"device": "i2s"})
	require.True(t, res.Success, string(res.Error))
	assert.JSONEq(t, `{"restart_required":true}`, string(res.Data))

	res = c.command("settings/recorder", map[string]any{"codec": "mp3", "sampling_rate": 48000, "bit_rate": 128000})
	require.True(t, res.Success, string(res.Error))

	res = c.command("settings/recorder", map[string]any{"codec": "opus", "sampling_rate": 48000, "bit_length": 24})
	assert.False(t, res.Success)
	assert.Contains(t, string(res.Error), "does not match")

	res = c.command("settings/mic_gain", map[string]any{"gains": []int{50}})
	require.True(t, res.Success, string(res.Error))
	assert.JSONEq(t, `{"applied":false}`, string(res.Data))

	res = c.command("settings/get", nil)
	require.True(t, res.Success)
	var view SettingsView
	require.NoError(t, json.Unmarshal(res.Data, &view))
	assert.Equal(t, types.MixerI2S, view.OutputDevice)
	assert.Equal(t, types.CodecMP3, view.Recorder.Codec)
	assert.Equal(t, []int{50}, view.FrontEnd.MicGain)
	assert.False(t, view.WebhookOAuth)

	res = c.command("settings/regenerate_key", nil)
	require.True(t, res.Success)
	assert.NotEqual(t, testKey, f.cfg.APIKey())
}

func TestWebSocketNotifyTestWithoutWebhook(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)

	res := c.command("notify/test", nil)
	assert.False(t, res.Success)
	assert.Contains(t, string(res.Error), "webhook URL not configured")
}

func TestWebSocketEventsView(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)

	res := c.command("events/view", map[string]any{"filter": "object"})
	require.True(t, res.Success, string(res.Error))
	assert.JSONEq(t, `{"events":[],"has_more":false}`, string(res.Data))

	res = c.command("events/view", map[string]any{"filter": "audio"})
	assert.False(t, res.Success)
}

func TestCheckOrigin(t *testing.T) {
	t.Parallel()
	tests := []struct {
		origin string
		host   string
		want   bool
	}{
		{"", "example.org", true},
		{"http://localhost:3000", "example.org", true},
		{"http://127.0.0.1", "example.org", true},
		{"http://192.168.1.20", "example.org", true},
		{"https://studio.example.org", "studio.example.org:8080", true},
		{"https://evil.example.com", "studio.example.org", false},
		{"://bad", "studio.example.org", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
		r.Host = tt.host
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, checkOrigin(r), "origin %q", tt.origin)
	}
}
