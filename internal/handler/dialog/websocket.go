package dialog

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/reallychenchi/Mapijing/internal/model/message"
	dialogservice "github.com/reallychenchi/Mapijing/internal/service/dialog"
)

// Service 端到端对话服务的行为约定，便于测试替换
type Service interface {
	Connect(ctx context.Context) error
	StartSession(ctx context.Context, inputMod string) error
	SendAudio(audioBase64 string) error
	SendText(text string) error
	SayHello(content string) error
	Interrupt()
	FinishSession() error
	Close() error
	Receive(ctx context.Context) (dialogservice.Event, error)
	SessionID() string
}

// Handler 端到端语音对话的WebSocket处理器。
// 每个接受的客户端连接创建独立的服务实例，无全局状态。
type Handler struct {
	newService func() Service
	upgrader   websocket.Upgrader
}

// NewHandler 创建WebSocket处理器
func NewHandler(newService func() Service) *Handler {
	return &Handler{
		newService: newService,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *Handler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws/dialog", h.handleWebSocket)
}

// connManager 单个客户端连接的状态
type connManager struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	svc   Service
	group *errgroup.Group

	forwarding bool

	// 当前轮次状态：tts片段序号与累计的回复文本。
	// 转发循环与中断处理都会触碰，用锁保护。
	turnMu       sync.Mutex
	ttsSeq       int
	fullChatText strings.Builder
}

// resetTurn 清空当前轮次的序号与累计文本
func (m *connManager) resetTurn() {
	m.turnMu.Lock()
	defer m.turnMu.Unlock()
	m.ttsSeq = 0
	m.fullChatText.Reset()
}

// appendChatText 追加一段回复文本
func (m *connManager) appendChatText(text string) {
	m.turnMu.Lock()
	defer m.turnMu.Unlock()
	m.fullChatText.WriteString(text)
}

// fullText 返回当前轮次累计的回复文本
func (m *connManager) fullText() string {
	m.turnMu.Lock()
	defer m.turnMu.Unlock()
	return m.fullChatText.String()
}

// nextTTSSeq 返回当前片段序号并自增
func (m *connManager) nextTTSSeq() int {
	m.turnMu.Lock()
	defer m.turnMu.Unlock()
	seq := m.ttsSeq
	m.ttsSeq++
	return seq
}

// handleWebSocket 处理客户端WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[websocket] new dialog connection from %s", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	m := &connManager{
		conn: conn,
		svc:  h.newService(),
	}
	defer func() {
		if err := m.svc.Close(); err != nil {
			log.Printf("[websocket] service close error: %v", err)
		}
		log.Printf("[websocket] dialog connection closed")
	}()

	g, ctx := errgroup.WithContext(ctx)
	m.group = g

	g.Go(func() error {
		defer cancel()
		return m.readLoop(ctx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Printf("[websocket] connection error: %v", err)
	}
}

// readLoop 读取客户端消息直到断开
func (m *connManager) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, data, err := m.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return nil
		}

		var envelope message.ClientEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			// 无效JSON只回错误，不断开连接
			m.sendError(message.ErrUnknown, fmt.Sprintf("Invalid JSON: %v", err))
			continue
		}

		m.handleMessage(ctx, &envelope)
	}
}

// handleMessage 路由客户端消息
func (m *connManager) handleMessage(ctx context.Context, envelope *message.ClientEnvelope) {
	switch envelope.Type {
	case message.ClientStartSession:
		m.handleStartSession(ctx, envelope.Data)

	case message.ClientAudioData:
		audio, _ := envelope.Data["audio"].(string)
		if audio == "" {
			return
		}
		if err := m.svc.SendAudio(audio); err != nil {
			log.Printf("[websocket] send audio failed: %v", err)
		}

	case message.ClientTextQuery:
		text, _ := envelope.Data["text"].(string)
		if text == "" {
			return
		}
		if err := m.svc.SendText(text); err != nil {
			log.Printf("[websocket] send text failed: %v", err)
		}

	case message.ClientSayHello:
		content, _ := envelope.Data["content"].(string)
		if err := m.svc.SayHello(content); err != nil {
			log.Printf("[websocket] say hello failed: %v", err)
		}

	case message.ClientInterrupt:
		m.svc.Interrupt()
		// 丢弃被打断轮次的残余文本，立即回一个空的tts_end，前端停止播放
		m.resetTurn()
		m.send(message.NewServerEnvelope(message.ServerTTSEnd, map[string]interface{}{"full_text": ""}))

	case message.ClientFinishSession:
		if err := m.svc.FinishSession(); err != nil {
			log.Printf("[websocket] finish session failed: %v", err)
		}

	default:
		log.Printf("[websocket] unknown message type: %s", envelope.Type)
		m.sendError(message.ErrUnknown, fmt.Sprintf("未知消息类型: %s", envelope.Type))
	}
}

// handleStartSession 连接上游并启动会话，成功后启动转发循环
func (m *connManager) handleStartSession(ctx context.Context, data map[string]interface{}) {
	inputMod, _ := data["input_mod"].(string)
	if inputMod == "" {
		inputMod = dialogservice.InputModAudio
	}

	if err := m.svc.Connect(ctx); err != nil {
		m.sendError(message.ErrNetwork, "连接端到端语音服务失败")
		return
	}

	if err := m.svc.StartSession(ctx, inputMod); err != nil {
		m.sendError(message.ErrNetwork, "启动端到端会话失败")
		return
	}

	log.Printf("[websocket] session started, session_id=%s", m.svc.SessionID())
	m.send(message.NewServerEnvelope(message.ServerSessionStarted, map[string]interface{}{
		"session_id": m.svc.SessionID(),
	}))

	if !m.forwarding {
		m.forwarding = true
		m.group.Go(func() error {
			return m.forwardLoop(ctx)
		})
	}
}

// forwardLoop 消费归一化事件并转发给客户端。
// tts_chunk在单轮内携带递增seq，asr_started、tts_ended和interrupt后归零。
func (m *connManager) forwardLoop(ctx context.Context) error {
	for {
		event, err := m.svc.Receive(ctx)
		if err != nil {
			if err == context.Canceled || ctx.Err() != nil {
				return nil
			}
			if err == dialogservice.ErrClosed {
				return nil
			}
			m.sendError(message.ErrUnknown, err.Error())
			return nil
		}

		switch event.Type {
		case dialogservice.EventASRStarted:
			// 用户开始说话，清空上一轮状态
			m.resetTurn()

		case dialogservice.EventASRResult:
			m.send(message.NewServerEnvelope(message.ServerASRResult, map[string]interface{}{
				"text":     event.Data["text"],
				"is_final": event.Data["is_final"],
			}))

		case dialogservice.EventASREnded:
			m.send(message.NewServerEnvelope(message.ServerASREnd, map[string]interface{}{"text": ""}))

		case dialogservice.EventChatText:
			text, _ := event.Data["text"].(string)
			m.appendChatText(text)
			m.send(message.NewServerEnvelope(message.ServerChatText, map[string]interface{}{"text": text}))

		case dialogservice.EventChatEnded:
			log.Printf("[websocket] chat ended, full text: %s", truncateForLog(m.fullText(), 50))

		case dialogservice.EventTTSStart:
			log.Printf("[websocket] tts started, type=%v", event.Data["tts_type"])

		case dialogservice.EventTTSChunk:
			audio, _ := event.Data["audio"].(string)
			if audio == "" {
				continue
			}
			m.send(message.NewServerEnvelope(message.ServerTTSChunk, map[string]interface{}{
				"text":     "",
				"audio":    audio,
				"seq":      m.nextTTSSeq(),
				"is_final": false,
			}))

		case dialogservice.EventTTSEnded:
			m.send(message.NewServerEnvelope(message.ServerTTSEnd, map[string]interface{}{
				"full_text": m.fullText(),
			}))
			m.resetTurn()

		case dialogservice.EventError:
			errMsg, _ := event.Data["message"].(string)
			fatal, _ := event.Data["is_fatal"].(bool)
			if !fatal {
				log.Printf("[websocket] non-fatal upstream error: %s", errMsg)
				continue
			}
			code := message.ErrUnknown
			if c, ok := event.Data["code"].(string); ok && c != "" {
				code = message.ErrorCode(c)
			}
			m.sendError(code, errMsg)
			return nil
		}
	}
}

func (m *connManager) send(envelope message.ServerEnvelope) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := m.conn.WriteJSON(envelope); err != nil {
		log.Printf("[websocket] write failed: %v", err)
	}
}

func (m *connManager) sendError(code message.ErrorCode, msg string) {
	log.Printf("[websocket] error [%s]: %s", code, msg)
	m.send(message.NewErrorEnvelope(code, msg))
}

func truncateForLog(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
