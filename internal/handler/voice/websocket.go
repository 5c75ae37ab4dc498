package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/reallychenchi/Mapijing/internal/model/message"
	"github.com/reallychenchi/Mapijing/internal/service/pipeline"
	"github.com/reallychenchi/Mapijing/internal/service/speech"
)

// Handler 分级语音对话的WebSocket处理器。
// 音频经流式ASR转文字，LLM流式回复逐句合成语音返回。
type Handler struct {
	newASR          func() *speech.StreamingASR
	newConversation func() *pipeline.Conversation
	upgrader        websocket.Upgrader
}

// NewHandler 创建WebSocket处理器
func NewHandler(newASR func() *speech.StreamingASR, newConversation func() *pipeline.Conversation) *Handler {
	return &Handler{
		newASR:          newASR,
		newConversation: newConversation,
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
	r.Get("/ws/voice", h.handleWebSocket)
}

// voiceConn 单个客户端连接的状态
type voiceConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	asr          *speech.StreamingASR
	conversation *pipeline.Conversation

	audioSeq int32
	asrBusy  bool
}

// handleWebSocket 处理客户端WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[voice] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[voice] new connection from %s", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	v := &voiceConn{
		conn:         conn,
		asr:          h.newASR(),
		conversation: h.newConversation(),
	}
	defer func() {
		if err := v.asr.Close(); err != nil {
			log.Printf("[voice] asr close error: %v", err)
		}
		log.Printf("[voice] connection closed")
	}()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return v.readLoop(ctx, g)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Printf("[voice] connection error: %v", err)
	}
}

// readLoop 读取客户端消息直到断开
func (v *voiceConn) readLoop(ctx context.Context, g *errgroup.Group) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, data, err := v.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[voice] read error: %v", err)
			}
			return nil
		}

		var envelope message.ClientEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			v.sendError(message.ErrUnknown, fmt.Sprintf("Invalid JSON: %v", err))
			continue
		}

		v.handleMessage(ctx, g, &envelope)
	}
}

// handleMessage 路由客户端消息
func (v *voiceConn) handleMessage(ctx context.Context, g *errgroup.Group, envelope *message.ClientEnvelope) {
	switch envelope.Type {
	case message.ClientStartSession:
		v.handleStartSession(ctx, g)

	case message.ClientAudioData:
		v.handleAudioData(envelope.Data)

	case message.ClientAudioEnd:
		v.handleAudioEnd()

	case message.ClientTextQuery:
		text, _ := envelope.Data["text"].(string)
		if text == "" {
			return
		}
		g.Go(func() error {
			v.respond(ctx, text)
			return nil
		})

	case message.ClientInterrupt:
		v.conversation.Interrupt()
		v.send(message.NewServerEnvelope(message.ServerTTSEnd, map[string]interface{}{"full_text": ""}))

	case message.ClientFinishSession:
		v.conversation.Reset()

	default:
		log.Printf("[voice] unknown message type: %s", envelope.Type)
		v.sendError(message.ErrUnknown, fmt.Sprintf("未知消息类型: %s", envelope.Type))
	}
}

// handleStartSession 连接ASR服务并启动结果消费循环
func (v *voiceConn) handleStartSession(ctx context.Context, g *errgroup.Group) {
	if v.asrBusy {
		return
	}

	if err := v.asr.Connect(ctx); err != nil {
		log.Printf("[voice] asr connect failed: %v", err)
		v.sendError(message.ErrASR, "连接语音识别服务失败")
		return
	}

	v.asrBusy = true
	v.audioSeq = 0

	g.Go(func() error {
		return v.asrLoop(ctx)
	})

	v.send(message.NewServerEnvelope(message.ServerSessionStarted, map[string]interface{}{
		"emotion": string(v.conversation.CurrentEmotion()),
	}))
}

// handleAudioData 转发一包PCM音频到ASR
func (v *voiceConn) handleAudioData(data map[string]interface{}) {
	audioBase64, _ := data["audio"].(string)
	if audioBase64 == "" {
		return
	}

	audio, err := base64.StdEncoding.DecodeString(audioBase64)
	if err != nil {
		v.sendError(message.ErrUnknown, "无效的音频数据")
		return
	}

	v.audioSeq++
	if err := v.asr.SendAudio(audio, v.audioSeq, false); err != nil {
		log.Printf("[voice] send audio failed: %v", err)
	}
}

// handleAudioEnd 发送收尾空包，通知ASR本轮语音结束
func (v *voiceConn) handleAudioEnd() {
	v.audioSeq++
	if err := v.asr.SendAudio(nil, v.audioSeq, true); err != nil {
		log.Printf("[voice] send audio end failed: %v", err)
	}
}

// asrLoop 消费识别结果。最终结果触发一轮对话处理。
func (v *voiceConn) asrLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-v.asr.Errors():
			v.sendError(message.ErrASR, err.Error())
			return nil

		case result, ok := <-v.asr.Results():
			if !ok {
				return nil
			}

			v.send(message.NewServerEnvelope(message.ServerASRResult, map[string]interface{}{
				"text":     result.Text,
				"is_final": result.IsFinal,
			}))

			if result.IsFinal && result.Text != "" {
				v.send(message.NewServerEnvelope(message.ServerASREnd, map[string]interface{}{
					"text": result.Text,
				}))
				v.respond(ctx, result.Text)
			}
		}
	}
}

// respond 执行一轮流式对话，逐句下发语音片段
func (v *voiceConn) respond(ctx context.Context, userText string) {
	fullText, err := v.conversation.RespondStream(ctx, userText,
		func(chunk pipeline.TTSChunk) error {
			data := map[string]interface{}{
				"text":     chunk.Text,
				"audio":    base64.StdEncoding.EncodeToString(chunk.Audio),
				"seq":      chunk.Seq,
				"is_final": chunk.IsFinal,
			}
			v.send(message.NewServerEnvelope(message.ServerTTSChunk, data))
			return nil
		},
		func(e message.EmotionType) {
			v.send(message.NewServerEnvelope(message.ServerEmotion, map[string]interface{}{
				"emotion": string(e),
			}))
		},
	)
	if err != nil {
		log.Printf("[voice] conversation failed: %v", err)
		v.sendError(message.ErrLLM, "生成回复失败")
		return
	}

	v.send(message.NewServerEnvelope(message.ServerTTSEnd, map[string]interface{}{
		"full_text": fullText,
	}))
}

func (v *voiceConn) send(envelope message.ServerEnvelope) {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()

	if err := v.conn.WriteJSON(envelope); err != nil {
		log.Printf("[voice] write failed: %v", err)
	}
}

func (v *voiceConn) sendError(code message.ErrorCode, msg string) {
	log.Printf("[voice] error [%s]: %s", code, msg)
	v.send(message.NewErrorEnvelope(code, msg))
}
