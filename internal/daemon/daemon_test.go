package daemon

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harun/vprtutor/internal/config"
	"github.com/harun/vprtutor/internal/logger"
	"github.com/harun/vprtutor/internal/telegram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "123456:test-token"

type fakeTelegramCall struct {
	Method string
	Text   string
	ChatID int64
}

type fakeTelegramAPI struct {
	mu            sync.Mutex
	nextMessageID int
	calls         []fakeTelegramCall
	updates       []map[string]interface{}
}

func (f *fakeTelegramAPI) appendCall(call fakeTelegramCall) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeTelegramAPI) sent() []fakeTelegramCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeTelegramCall
	for _, c := range f.calls {
		if c.Method == "sendMessage" {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeTelegramAPI) push(update map[string]interface{}) {
	f.mu.Lock()
	f.updates = append(f.updates, update)
	f.mu.Unlock()
}

func (f *fakeTelegramAPI) pending(offset int) []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []map[string]interface{}{}
	for _, u := range f.updates {
		if u["update_id"].(int) >= offset {
			out = append(out, u)
		}
	}
	return out
}

func newFakeTelegramServer(t *testing.T) (*httptest.Server, *fakeTelegramAPI) {
	t.Helper()

	state := &fakeTelegramAPI{nextMessageID: 100}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()

		path := strings.TrimPrefix(r.URL.Path, "/bot"+testToken+"/")
		switch path {
		case "getMe":
			writeJSON(w, map[string]interface{}{
				"ok": true,
				"result": map[string]interface{}{
					"id":         999001,
					"is_bot":     true,
					"first_name": "VPRTutor",
					"username":   "vpr_tutor_test_bot",
				},
			})
		case "getUpdates":
			offset, _ := strconv.Atoi(r.Form.Get("offset"))
			updates := state.pending(offset)
			if len(updates) == 0 {
				time.Sleep(20 * time.Millisecond)
			}
			writeJSON(w, map[string]interface{}{"ok": true, "result": updates})
		case "sendMessage":
			chatID, _ := strconv.ParseInt(r.Form.Get("chat_id"), 10, 64)
			text := r.Form.Get("text")
			state.mu.Lock()
			state.nextMessageID++
			messageID := state.nextMessageID
			state.mu.Unlock()
			state.appendCall(fakeTelegramCall{Method: "sendMessage", Text: text, ChatID: chatID})
			writeJSON(w, map[string]interface{}{
				"ok": true,
				"result": map[string]interface{}{
					"message_id": messageID,
					"date":       time.Now().Unix(),
					"text":       text,
					"chat":       map[string]interface{}{"id": chatID, "type": "private"},
				},
			})
		default:
			state.appendCall(fakeTelegramCall{Method: path})
			writeJSON(w, map[string]interface{}{"ok": true, "result": true})
		}
	}))
	t.Cleanup(server.Close)

	return server, state
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

// fakeOpenAI answers chat completions with reply(n, messages), n counting from 1
type fakeOpenAI struct {
	mu       sync.Mutex
	requests [][]map[string]interface{}
	reply    func(n int, messages []map[string]interface{}) (int, string)
}

func (f *fakeOpenAI) snapshot() [][]map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]map[string]interface{}, len(f.requests))
	copy(out, f.requests)
	return out
}

func newFakeOpenAIServer(t *testing.T, reply func(n int, messages []map[string]interface{}) (int, string)) (*httptest.Server, *fakeOpenAI) {
	t.Helper()

	state := &fakeOpenAI{reply: reply}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []map[string]interface{} `json:"messages"`
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)

		state.mu.Lock()
		state.requests = append(state.requests, body.Messages)
		n := len(state.requests)
		state.mu.Unlock()

		status, content := state.reply(n, body.Messages)
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"error":{"message":"upstream failure","type":"server_error"}}`)
			return
		}
		encoded, _ := json.Marshal(content)
		_, _ = fmt.Fprintf(w, `{
			"id": "chatcmpl-%d",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": %s}}]
		}`, n, encoded)
	}))
	t.Cleanup(server.Close)

	return server, state
}

func testConfig(tg, oai *httptest.Server) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Telegram.BotToken = testToken
	cfg.Telegram.APIEndpoint = tg.URL + "/bot%s/%s"
	cfg.Telegram.PollTimeoutSeconds = 0
	cfg.Completion.OpenAIAPIKey = "sk-test"
	cfg.Completion.BaseURL = oai.URL + "/"
	cfg.Completion.TimeoutSeconds = 5
	cfg.Completion.MaxRetries = 0
	cfg.Ops.Addr = "127.0.0.1:0"
	return cfg
}

type testHarness struct {
	daemon   *Daemon
	telegram *fakeTelegramAPI
	openai   *fakeOpenAI
}

func newTestHarness(t *testing.T, reply func(n int, messages []map[string]interface{}) (int, string)) *testHarness {
	t.Helper()

	tg, tgState := newFakeTelegramServer(t)
	oai, oaiState := newFakeOpenAIServer(t, reply)

	d, err := New(testConfig(tg, oai), logger.Nop(), "test")
	require.NoError(t, err)

	return &testHarness{daemon: d, telegram: tgState, openai: oaiState}
}

func (h *testHarness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.daemon.Start())
	t.Cleanup(func() {
		if h.daemon.Status().Running {
			_ = h.daemon.Stop()
		}
	})
}

func (h *testHarness) waitForReplies(t *testing.T, n int) []fakeTelegramCall {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(h.telegram.sent()) >= n
	}, 5*time.Second, 10*time.Millisecond)
	return h.telegram.sent()
}

func textUpdate(updateID int, userID int64, messageID int, text string) map[string]interface{} {
	message := map[string]interface{}{
		"message_id": messageID,
		"from":       map[string]interface{}{"id": userID, "is_bot": false, "first_name": "Student"},
		"chat":       map[string]interface{}{"id": userID, "type": "private"},
		"date":       time.Now().Unix(),
		"text":       text,
	}
	if strings.HasPrefix(text, "/") {
		message["entities"] = []map[string]interface{}{
			{"type": "bot_command", "offset": 0, "length": len(strings.Fields(text)[0])},
		}
	}
	return map[string]interface{}{"update_id": updateID, "message": message}
}

func photoUpdate(updateID int, userID int64, messageID int) map[string]interface{} {
	return map[string]interface{}{
		"update_id": updateID,
		"message": map[string]interface{}{
			"message_id": messageID,
			"from":       map[string]interface{}{"id": userID, "is_bot": false, "first_name": "Student"},
			"chat":       map[string]interface{}{"id": userID, "type": "private"},
			"date":       time.Now().Unix(),
			"photo": []map[string]interface{}{
				{"file_id": "photo-1", "file_unique_id": "u-1", "width": 90, "height": 90},
			},
		},
	}
}

func staticReply(content string) func(int, []map[string]interface{}) (int, string) {
	return func(int, []map[string]interface{}) (int, string) {
		return http.StatusOK, content
	}
}

func TestNew(t *testing.T) {
	h := newTestHarness(t, staticReply("ok"))

	assert.NotNil(t, h.daemon.store)
	assert.NotNil(t, h.daemon.completer)
	assert.NotNil(t, h.daemon.queue)
	assert.NotNil(t, h.daemon.tutor)
	assert.NotNil(t, h.daemon.telegramBot)
	assert.NotNil(t, h.daemon.opsServer)
	assert.Nil(t, h.daemon.sweeper, "sweeper is off by default")
	assert.Equal(t, []string{"help", "start"}, h.daemon.telegramCmd.GetRegisteredCommands())
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(nil, logger.Nop(), "test")
	assert.Error(t, err)

	cfg := config.DefaultConfig()
	cfg.Completion.OpenAIAPIKey = "sk-test"
	_, err = New(cfg, logger.Nop(), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_BOT_TOKEN")
}

func TestNew_TelegramUnavailable(t *testing.T) {
	original := newTelegramBot
	newTelegramBot = func(*config.TelegramConfig, *logger.Logger) (*telegram.Bot, error) {
		return nil, fmt.Errorf("dial tcp: connection refused")
	}
	t.Cleanup(func() { newTelegramBot = original })

	tg, _ := newFakeTelegramServer(t)
	oai, _ := newFakeOpenAIServer(t, staticReply("ok"))

	_, err := New(testConfig(tg, oai), logger.Nop(), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNew_WithSweeper(t *testing.T) {
	tg, _ := newFakeTelegramServer(t)
	oai, _ := newFakeOpenAIServer(t, staticReply("ok"))

	cfg := testConfig(tg, oai)
	cfg.Session.IdleTTLMinutes = 30

	d, err := New(cfg, logger.Nop(), "test")
	require.NoError(t, err)
	require.NotNil(t, d.sweeper)

	require.NoError(t, d.Start())
	assert.True(t, d.sweeper.IsRunning())
	require.NoError(t, d.Stop())
	assert.False(t, d.sweeper.IsRunning())
}

func TestDaemonStartStop(t *testing.T) {
	h := newTestHarness(t, staticReply("ok"))

	status := h.daemon.Status()
	assert.False(t, status.Running)
	assert.Equal(t, time.Duration(0), status.Uptime)
	assert.Equal(t, "openai", status.Provider)

	require.NoError(t, h.daemon.Start())
	assert.True(t, h.daemon.Status().Running)

	err := h.daemon.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	resp, err := http.Get("http://" + h.daemon.OpsAddr() + "/healthz")
	require.NoError(t, err)
	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", health["status"])

	require.NoError(t, h.daemon.Stop())
	assert.False(t, h.daemon.Status().Running)
	assert.True(t, h.daemon.queue.IsClosed())

	err = h.daemon.Stop()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
}
