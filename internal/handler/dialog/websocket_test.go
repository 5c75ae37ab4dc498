package dialog

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/reallychenchi/Mapijing/internal/model/message"
	dialogservice "github.com/reallychenchi/Mapijing/internal/service/dialog"
)

// fakeService 可编排事件的对话服务替身
type fakeService struct {
	events      chan dialogservice.Event
	interrupted atomic.Bool
	connected   atomic.Bool
}

func newFakeService() *fakeService {
	return &fakeService{events: make(chan dialogservice.Event, 64)}
}

func (f *fakeService) Connect(ctx context.Context) error { f.connected.Store(true); return nil }
func (f *fakeService) StartSession(ctx context.Context, inputMod string) error { return nil }
func (f *fakeService) SendAudio(audioBase64 string) error                      { return nil }
func (f *fakeService) SendText(text string) error                              { return nil }
func (f *fakeService) SayHello(content string) error                           { return nil }
func (f *fakeService) Interrupt()                                              { f.interrupted.Store(true) }
func (f *fakeService) FinishSession() error                                    { return nil }
func (f *fakeService) Close() error                                            { return nil }
func (f *fakeService) SessionID() string                                       { return "test-session" }

func (f *fakeService) Receive(ctx context.Context) (dialogservice.Event, error) {
	select {
	case event := <-f.events:
		return event, nil
	case <-ctx.Done():
		return dialogservice.Event{}, ctx.Err()
	}
}

func newTestConn(t *testing.T, svc *fakeService) *websocket.Conn {
	t.Helper()

	h := NewHandler(func() Service { return svc })
	r := chi.NewRouter()
	h.RegisterWebSocketRoutes(r)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/dialog"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) message.ServerEnvelope {
	t.Helper()

	var envelope message.ServerEnvelope
	if err := conn.ReadJSON(&envelope); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return envelope
}

func TestInvalidJSONKeepsConnectionOpen(t *testing.T) {
	conn := newTestConn(t, newFakeService())

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}

	envelope := readEnvelope(t, conn)
	if envelope.Type != message.ServerError {
		t.Fatalf("type = %s, want %s", envelope.Type, message.ServerError)
	}
	data, _ := envelope.Data.(map[string]interface{})
	msg, _ := data["message"].(string)
	if !strings.Contains(msg, "Invalid JSON") {
		t.Errorf("message = %q, want Invalid JSON", msg)
	}
	if data["code"] != string(message.ErrUnknown) {
		t.Errorf("code = %v, want %s", data["code"], message.ErrUnknown)
	}

	// 连接保持打开，后续消息仍被处理
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{bad")); err != nil {
		t.Fatalf("write after error: %v", err)
	}
	envelope = readEnvelope(t, conn)
	if envelope.Type != message.ServerError {
		t.Errorf("second message not handled, type = %s", envelope.Type)
	}
}

func TestInterruptSendsEmptyTTSEnd(t *testing.T) {
	svc := newFakeService()
	conn := newTestConn(t, svc)

	if err := conn.WriteJSON(map[string]any{"type": "interrupt", "data": map[string]any{}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	envelope := readEnvelope(t, conn)
	if envelope.Type != message.ServerTTSEnd {
		t.Fatalf("type = %s, want %s", envelope.Type, message.ServerTTSEnd)
	}
	data, _ := envelope.Data.(map[string]interface{})
	if data["full_text"] != "" {
		t.Errorf("full_text = %v, want empty", data["full_text"])
	}
	if !svc.interrupted.Load() {
		t.Error("service interrupt not invoked")
	}
}

func TestUnknownMessageTypeReturnsError(t *testing.T) {
	conn := newTestConn(t, newFakeService())

	if err := conn.WriteJSON(map[string]any{"type": "bogus", "data": map[string]any{}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	envelope := readEnvelope(t, conn)
	if envelope.Type != message.ServerError {
		t.Fatalf("type = %s, want %s", envelope.Type, message.ServerError)
	}
}

func TestForwardLoopTTSSequence(t *testing.T) {
	svc := newFakeService()
	svc.events <- dialogservice.Event{Type: dialogservice.EventASRStarted, Data: map[string]interface{}{}}
	svc.events <- dialogservice.Event{
		Type: dialogservice.EventChatText,
		Data: map[string]interface{}{"text": "今天"},
	}
	svc.events <- dialogservice.Event{
		Type: dialogservice.EventChatText,
		Data: map[string]interface{}{"text": "天气不错"},
	}
	svc.events <- dialogservice.Event{
		Type: dialogservice.EventTTSChunk,
		Data: map[string]interface{}{"audio": "QUJD"},
	}
	svc.events <- dialogservice.Event{
		Type: dialogservice.EventTTSChunk,
		Data: map[string]interface{}{"audio": "REVG"},
	}
	svc.events <- dialogservice.Event{Type: dialogservice.EventTTSEnded, Data: map[string]interface{}{}}

	conn := newTestConn(t, svc)

	if err := conn.WriteJSON(map[string]any{"type": "start_session", "data": map[string]any{}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var sessionStarted bool
	var chatTexts []string
	var chunkSeqs []float64
	var fullText string

	for {
		envelope := readEnvelope(t, conn)
		data, _ := envelope.Data.(map[string]interface{})

		switch envelope.Type {
		case message.ServerSessionStarted:
			sessionStarted = true
			if data["session_id"] != "test-session" {
				t.Errorf("session_id = %v, want test-session", data["session_id"])
			}
		case message.ServerChatText:
			text, _ := data["text"].(string)
			chatTexts = append(chatTexts, text)
		case message.ServerTTSChunk:
			seq, _ := data["seq"].(float64)
			chunkSeqs = append(chunkSeqs, seq)
			if data["is_final"] != false {
				t.Errorf("is_final = %v, want false", data["is_final"])
			}
		case message.ServerTTSEnd:
			fullText, _ = data["full_text"].(string)
		}

		if envelope.Type == message.ServerTTSEnd {
			break
		}
	}

	if !sessionStarted {
		t.Error("session_started not received")
	}
	if len(chatTexts) != 2 {
		t.Fatalf("chat texts = %v, want 2 entries", chatTexts)
	}
	if len(chunkSeqs) != 2 || chunkSeqs[0] != 0 || chunkSeqs[1] != 1 {
		t.Errorf("chunk seqs = %v, want [0 1]", chunkSeqs)
	}
	if fullText != "今天天气不错" {
		t.Errorf("full_text = %q, want 今天天气不错", fullText)
	}
}

func TestInterruptClearsAccumulatedChatText(t *testing.T) {
	svc := newFakeService()
	svc.events <- dialogservice.Event{
		Type: dialogservice.EventChatText,
		Data: map[string]interface{}{"text": "被打断的半句"},
	}

	conn := newTestConn(t, svc)

	if err := conn.WriteJSON(map[string]any{"type": "start_session", "data": map[string]any{}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	// 等待半句回复已被转发并计入累计文本
	for {
		envelope := readEnvelope(t, conn)
		if envelope.Type == message.ServerChatText {
			break
		}
	}

	if err := conn.WriteJSON(map[string]any{"type": "interrupt", "data": map[string]any{}}); err != nil {
		t.Fatalf("write interrupt: %v", err)
	}

	envelope := readEnvelope(t, conn)
	if envelope.Type != message.ServerTTSEnd {
		t.Fatalf("type = %s, want %s", envelope.Type, message.ServerTTSEnd)
	}

	// 下一轮结束时不应再带上被打断轮次的文本
	svc.events <- dialogservice.Event{Type: dialogservice.EventTTSEnded, Data: map[string]interface{}{}}

	envelope = readEnvelope(t, conn)
	if envelope.Type != message.ServerTTSEnd {
		t.Fatalf("type = %s, want %s", envelope.Type, message.ServerTTSEnd)
	}
	data, _ := envelope.Data.(map[string]interface{})
	if data["full_text"] != "" {
		t.Errorf("full_text = %v, want empty after interrupt", data["full_text"])
	}
}

func TestForwardLoopFatalError(t *testing.T) {
	svc := newFakeService()
	svc.events <- dialogservice.Event{
		Type: dialogservice.EventError,
		Data: map[string]interface{}{
			"message":  "连接已断开",
			"is_fatal": true,
			"code":     string(message.ErrNetwork),
		},
	}

	conn := newTestConn(t, svc)

	if err := conn.WriteJSON(map[string]any{"type": "start_session", "data": map[string]any{}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	for {
		envelope := readEnvelope(t, conn)
		if envelope.Type != message.ServerError {
			continue
		}
		data, _ := envelope.Data.(map[string]interface{})
		if data["code"] != string(message.ErrNetwork) {
			t.Errorf("code = %v, want %s", data["code"], message.ErrNetwork)
		}
		return
	}
}
