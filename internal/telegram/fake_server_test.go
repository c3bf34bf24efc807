package telegram

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harun/vprtutor/internal/config"
	"github.com/harun/vprtutor/internal/logger"
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
	failSend      bool
	rejectAuth    bool
}

func (f *fakeTelegramAPI) appendCall(call fakeTelegramCall) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeTelegramAPI) snapshot() []fakeTelegramCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fakeTelegramCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeTelegramAPI) sent() []fakeTelegramCall {
	var out []fakeTelegramCall
	for _, c := range f.snapshot() {
		if c.Method == "sendMessage" {
			out = append(out, c)
		}
	}
	return out
}

// push queues an update for the next getUpdates poll
func (f *fakeTelegramAPI) push(update map[string]interface{}) {
	f.mu.Lock()
	f.updates = append(f.updates, update)
	f.mu.Unlock()
}

func (f *fakeTelegramAPI) pending(offset int) []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]interface{}
	for _, u := range f.updates {
		if u["update_id"].(int) >= offset {
			out = append(out, u)
		}
	}
	return out
}

func newFakeTelegramServer(t *testing.T, state *fakeTelegramAPI) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()

		path := strings.TrimPrefix(r.URL.Path, "/bot"+testToken+"/")
		switch path {
		case "getMe":
			state.mu.Lock()
			reject := state.rejectAuth
			state.mu.Unlock()
			if reject {
				writeTelegramResponse(t, w, map[string]interface{}{
					"ok":          false,
					"error_code":  401,
					"description": "Unauthorized",
				})
				return
			}
			writeTelegramResponse(t, w, map[string]interface{}{
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
				updates = []map[string]interface{}{}
			}
			writeTelegramResponse(t, w, map[string]interface{}{
				"ok":     true,
				"result": updates,
			})
		case "sendMessage":
			chatID, _ := strconv.ParseInt(r.Form.Get("chat_id"), 10, 64)
			text := r.Form.Get("text")
			state.mu.Lock()
			fail := state.failSend
			state.nextMessageID++
			messageID := state.nextMessageID
			state.mu.Unlock()
			if fail {
				writeTelegramResponse(t, w, map[string]interface{}{
					"ok":          false,
					"error_code":  403,
					"description": "Forbidden: bot was blocked by the user",
				})
				return
			}
			state.appendCall(fakeTelegramCall{Method: "sendMessage", Text: text, ChatID: chatID})
			writeTelegramResponse(t, w, map[string]interface{}{
				"ok": true,
				"result": map[string]interface{}{
					"message_id": messageID,
					"date":       time.Now().Unix(),
					"text":       text,
					"chat": map[string]interface{}{
						"id":   chatID,
						"type": "private",
					},
				},
			})
		case "setMyCommands":
			state.appendCall(fakeTelegramCall{Method: "setMyCommands", Text: r.Form.Get("commands")})
			writeTelegramResponse(t, w, map[string]interface{}{"ok": true, "result": true})
		default:
			writeTelegramResponse(t, w, map[string]interface{}{
				"ok":          true,
				"description": "handled by fake test server",
				"result":      map[string]interface{}{},
			})
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func writeTelegramResponse(t *testing.T, w http.ResponseWriter, payload map[string]interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(payload))
}

func testTelegramConfig(server *httptest.Server) *config.TelegramConfig {
	return &config.TelegramConfig{
		BotToken:           testToken,
		APIEndpoint:        server.URL + "/bot%s/%s",
		PollTimeoutSeconds: 0,
		DedupeTTLSeconds:   300,
	}
}

func newTelegramTestBot(t *testing.T) (*Bot, *fakeTelegramAPI) {
	t.Helper()

	state := &fakeTelegramAPI{nextMessageID: 100}
	server := newFakeTelegramServer(t, state)

	bot, err := New(testTelegramConfig(server), logger.Nop())
	require.NoError(t, err)

	return bot, state
}

func textUpdate(updateID int, userID int64, messageID int, text string) map[string]interface{} {
	message := map[string]interface{}{
		"message_id": messageID,
		"from": map[string]interface{}{
			"id":         userID,
			"is_bot":     false,
			"first_name": "Student",
		},
		"chat": map[string]interface{}{
			"id":   userID,
			"type": "private",
		},
		"date": time.Now().Unix(),
		"text": text,
	}
	if strings.HasPrefix(text, "/") {
		length := len(strings.Fields(text)[0])
		message["entities"] = []map[string]interface{}{
			{"type": "bot_command", "offset": 0, "length": length},
		}
	}
	return map[string]interface{}{"update_id": updateID, "message": message}
}

func stickerUpdate(updateID int, userID int64, messageID int) map[string]interface{} {
	return map[string]interface{}{
		"update_id": updateID,
		"message": map[string]interface{}{
			"message_id": messageID,
			"from":       map[string]interface{}{"id": userID, "is_bot": false, "first_name": "Student"},
			"chat":       map[string]interface{}{"id": userID, "type": "private"},
			"date":       time.Now().Unix(),
			"sticker": map[string]interface{}{
				"file_id":        "sticker-file",
				"file_unique_id": "sticker-unique",
				"width":          512,
				"height":         512,
				"is_animated":    false,
			},
		},
	}
}
