package dialog

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/reallychenchi/Mapijing/internal/service/speech"
)

type upstreamErr struct {
	msg   string
	fatal bool
}

// fakeUpstream 说二进制协议的假上游：
// StartSession回SessionStarted，FinishSession回SessionFinished，
// ChatTextQuery回错误帧，SayHello回SessionFailed。
type fakeUpstream struct {
	server *httptest.Server

	headerMu sync.Mutex
	headers  http.Header
}

// Headers 返回最近一次握手携带的请求头
func (u *fakeUpstream) Headers() http.Header {
	u.headerMu.Lock()
	defer u.headerMu.Unlock()
	return u.headers
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()

	u := &fakeUpstream{}
	upgrader := websocket.Upgrader{}

	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.headerMu.Lock()
		u.headers = r.Header.Clone()
		u.headerMu.Unlock()

		conn, err := upgrader.Upgrade(w, r, http.Header{"X-Tt-Logid": []string{"logid-test"}})
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := speech.DecodeMessage(bytes.NewReader(data))
			if err != nil {
				continue
			}

			switch msg.Event {
			case speech.EventStartConnection:
				u.write(t, conn, serverEventFrame(t, speech.EventConnectionStarted, "", nil))
			case speech.EventStartSession:
				u.write(t, conn, serverEventFrame(t, speech.EventSessionStarted, msg.SessionID,
					map[string]any{"dialog_id": "d1"}))
			case speech.EventFinishSession:
				u.write(t, conn, serverEventFrame(t, speech.EventSessionFinished, msg.SessionID, nil))
			case speech.EventChatTextQuery:
				u.write(t, conn, serverErrorFrame(t, 55000001, "bad query"))
			case speech.EventSayHello:
				u.write(t, conn, serverEventFrame(t, speech.EventSessionFailed, msg.SessionID,
					map[string]any{"error": "boom"}))
			}
		}
	}))
	t.Cleanup(u.server.Close)
	return u
}

func (u *fakeUpstream) write(t *testing.T, conn *websocket.Conn, frame []byte) {
	t.Helper()
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Errorf("upstream write: %v", err)
	}
}

func (u *fakeUpstream) url() string {
	return "ws" + strings.TrimPrefix(u.server.URL, "http")
}

func serverEventFrame(t *testing.T, event speech.EventType, sessionID string, payload map[string]any) []byte {
	t.Helper()

	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	compressed, err := speech.CompressPayload(body, speech.GzipCompression)
	if err != nil {
		t.Fatalf("compress payload: %v", err)
	}

	frame, err := speech.EncodeMessage(&speech.Message{
		Header:    speech.NewHeader(speech.FullServerResponse, speech.WithEvent, speech.JSONSerialization, speech.GzipCompression),
		Event:     event,
		SessionID: sessionID,
		Payload:   compressed,
	})
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	return frame
}

func serverErrorFrame(t *testing.T, code uint32, msg string) []byte {
	t.Helper()

	frame, err := speech.EncodeMessage(&speech.Message{
		Header:    speech.NewHeader(speech.ErrorMessage, speech.NoSequence, speech.JSONSerialization, speech.NoCompression),
		ErrorCode: code,
		Payload:   []byte(`{"error":"` + msg + `"}`),
	})
	if err != nil {
		t.Fatalf("encode error frame: %v", err)
	}
	return frame
}

func waitResponse(t *testing.T, ch <-chan *Response, event speech.EventType) *Response {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case resp := <-ch:
			if resp.Event == event {
				return resp
			}
		case <-deadline:
			t.Fatalf("timeout waiting for event %s", event.Name())
		}
	}
}

func waitError(t *testing.T, ch <-chan upstreamErr) upstreamErr {
	t.Helper()

	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error callback")
		return upstreamErr{}
	}
}

func TestClientSessionLifecycle(t *testing.T) {
	upstream := newFakeUpstream(t)

	respCh := make(chan *Response, 16)
	errCh := make(chan upstreamErr, 16)

	cfg := NewConfig("app-id", "access-key")
	cfg.BaseURL = upstream.url()

	client := NewClient(cfg, "session-1",
		func(resp *Response) { respCh <- resp },
		func(msg string, fatal bool) { errCh <- upstreamErr{msg: msg, fatal: fatal} },
	)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !client.IsConnected() {
		t.Error("client not marked connected")
	}
	if client.Logid() != "logid-test" {
		t.Errorf("logid = %q, want logid-test", client.Logid())
	}
	if upstream.Headers().Get("X-Api-Resource-Id") != ResourceID {
		t.Errorf("resource id header = %q, want %q", upstream.Headers().Get("X-Api-Resource-Id"), ResourceID)
	}
	if upstream.Headers().Get("X-Api-App-ID") != "app-id" {
		t.Errorf("app id header = %q, want app-id", upstream.Headers().Get("X-Api-App-ID"))
	}
	if upstream.Headers().Get("X-Api-Connect-Id") == "" {
		t.Error("connect id header missing")
	}

	waitResponse(t, respCh, speech.EventConnectionStarted)
	if client.IsSessionStarted() {
		t.Error("session started before StartSession")
	}

	// SessionStarted置位
	if err := client.StartSession(InputModText); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	resp := waitResponse(t, respCh, speech.EventSessionStarted)
	if !client.IsSessionStarted() {
		t.Error("session flag not set on SessionStarted")
	}
	if resp.Payload["dialog_id"] != "d1" {
		t.Errorf("dialog_id = %v, want d1", resp.Payload["dialog_id"])
	}

	// SessionFinished清零
	if err := client.FinishSession(); err != nil {
		t.Fatalf("FinishSession: %v", err)
	}
	waitResponse(t, respCh, speech.EventSessionFinished)
	if client.IsSessionStarted() {
		t.Error("session flag not cleared on SessionFinished")
	}

	// 第二次会话可以复用同一连接
	if err := client.StartSession(InputModText); err != nil {
		t.Fatalf("StartSession again: %v", err)
	}
	waitResponse(t, respCh, speech.EventSessionStarted)
	if !client.IsSessionStarted() {
		t.Error("session flag not set on second SessionStarted")
	}

	// 错误帧走非致命错误回调，会话状态不受影响
	if err := client.SendTextQuery("hi"); err != nil {
		t.Fatalf("SendTextQuery: %v", err)
	}
	upErr := waitError(t, errCh)
	if upErr.fatal {
		t.Error("error frame should be non-fatal")
	}
	if upErr.msg != "bad query" {
		t.Errorf("error message = %q, want bad query", upErr.msg)
	}
	if !client.IsSessionStarted() {
		t.Error("session flag cleared by non-fatal error")
	}

	// SessionFailed清零并触发致命错误回调
	if err := client.SayHello("trigger"); err != nil {
		t.Fatalf("SayHello: %v", err)
	}
	upErr = waitError(t, errCh)
	if !upErr.fatal {
		t.Error("SessionFailed should be fatal")
	}
	if upErr.msg != "boom" {
		t.Errorf("error message = %q, want boom", upErr.msg)
	}
	if client.IsSessionStarted() {
		t.Error("session flag not cleared on SessionFailed")
	}
}

func TestClientCloseClearsFlags(t *testing.T) {
	upstream := newFakeUpstream(t)

	cfg := NewConfig("app-id", "access-key")
	cfg.BaseURL = upstream.url()

	client := NewClient(cfg, "session-2",
		func(*Response) {},
		func(string, bool) {},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if client.IsConnected() {
		t.Error("client still marked connected after Close")
	}
	if client.IsSessionStarted() {
		t.Error("session flag survived Close")
	}
}
