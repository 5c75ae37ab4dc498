package dialog

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/reallychenchi/Mapijing/internal/model/message"
	"github.com/reallychenchi/Mapijing/internal/service/speech"
)

// 队列容量。响应队列溢出时丢弃并告警；
// 错误队列上的致命错误永不丢弃（阻塞写入）。
const (
	responseQueueSize = 256
	errorQueueSize    = 16
)

// startSessionTimeout 等待SessionStarted的上限
const startSessionTimeout = 10 * time.Second

// ErrClosed 服务已因致命错误或关闭而终止
var ErrClosed = errors.New("dialog: service closed")

// 归一化事件类型
const (
	EventASRStarted = "asr_started"
	EventASRResult  = "asr_result"
	EventASREnded   = "asr_ended"
	EventChatText   = "chat_text"
	EventChatEnded  = "chat_ended"
	EventTTSStart   = "tts_start"
	EventTTSChunk   = "tts_chunk"
	EventTTSEnded   = "tts_ended"
	EventError      = "error"
)

// Event 归一化后的对话事件
type Event struct {
	Type string
	Data map[string]interface{}
}

type upstreamError struct {
	message string
	fatal   bool
}

// Service 端到端实时语音对话服务。
// 将上游二进制协议封装为一条归一化事件流，
// 每个客户端连接持有自己的Service实例。
type Service struct {
	config *Config

	client    *Client
	sessionID string

	responseCh chan *Response
	errorCh    chan upstreamError

	interrupted atomic.Bool
	closed      atomic.Bool
}

// NewService 创建对话服务
func NewService(config *Config) *Service {
	return &Service{config: config}
}

// SessionID 返回当前会话ID
func (s *Service) SessionID() string {
	return s.sessionID
}

// IsConnected 检查上游连接状态
func (s *Service) IsConnected() bool {
	return s.client != nil && s.client.IsConnected()
}

// IsSessionStarted 检查会话是否已启动
func (s *Service) IsSessionStarted() bool {
	return s.client != nil && s.client.IsSessionStarted()
}

// Connect 生成新的会话ID并建立上游连接
func (s *Service) Connect(ctx context.Context) error {
	if s.client != nil && s.client.IsConnected() {
		return nil
	}

	s.sessionID = uuid.New().String()
	s.responseCh = make(chan *Response, responseQueueSize)
	s.errorCh = make(chan upstreamError, errorQueueSize)

	s.client = NewClient(s.config, s.sessionID, s.onResponse, s.onError)
	if err := s.client.Connect(ctx); err != nil {
		return err
	}

	log.Printf("[dialog] service connected, session_id=%s", s.sessionID)
	return nil
}

// StartSession 发送StartSession并阻塞等待SessionStarted，
// 超时10秒即失败。等待期间排出的其他帧仅是连接引导事件，直接丢弃。
func (s *Service) StartSession(ctx context.Context, inputMod string) error {
	if s.client == nil {
		return fmt.Errorf("cannot start session: not connected")
	}
	if inputMod == "" {
		inputMod = InputModAudio
	}

	if err := s.client.StartSession(inputMod); err != nil {
		return err
	}

	timer := time.NewTimer(startSessionTimeout)
	defer timer.Stop()

	for {
		select {
		case resp := <-s.responseCh:
			if resp.Event == speech.EventSessionStarted {
				log.Printf("[dialog] session started successfully")
				return nil
			}
		case upErr := <-s.errorCh:
			return fmt.Errorf("session start failed: %s", upErr.message)
		case <-timer.C:
			return fmt.Errorf("timeout waiting for SessionStarted")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SendAudio 解码base64音频并转发，会话未就绪时忽略
func (s *Service) SendAudio(audioBase64 string) error {
	if !s.IsSessionStarted() {
		log.Printf("[dialog] cannot send audio: session not ready")
		return nil
	}

	audio, err := base64.StdEncoding.DecodeString(audioBase64)
	if err != nil {
		return fmt.Errorf("invalid base64 audio: %w", err)
	}
	return s.client.SendAudio(audio)
}

// SendText 发送文本查询，开始新的一轮对话
func (s *Service) SendText(text string) error {
	if !s.IsSessionStarted() {
		log.Printf("[dialog] cannot send text: session not ready")
		return nil
	}

	s.interrupted.Store(false)
	return s.client.SendTextQuery(text)
}

// SayHello 发送打招呼消息，content为空时使用默认问候语
func (s *Service) SayHello(content string) error {
	if !s.IsSessionStarted() {
		log.Printf("[dialog] cannot say hello: session not ready")
		return nil
	}

	s.interrupted.Store(false)
	return s.client.SayHello(content)
}

// Interrupt 中断当前轮次。只在本地丢弃后续事件，
// 不通知上游；上游会在下一轮开始时自行结束本轮。幂等。
func (s *Service) Interrupt() {
	s.interrupted.Store(true)
	log.Printf("[dialog] response interrupted")
}

// FinishSession 结束当前会话
func (s *Service) FinishSession() error {
	if s.client == nil {
		return nil
	}
	return s.client.FinishSession()
}

// Close 优雅关闭：结束会话和连接后释放资源
func (s *Service) Close() error {
	s.closed.Store(true)

	if s.client == nil {
		return nil
	}

	if err := s.client.FinishSession(); err != nil {
		log.Printf("[dialog] error finishing session: %v", err)
	}
	if err := s.client.FinishConnection(); err != nil {
		log.Printf("[dialog] error finishing connection: %v", err)
	}

	err := s.client.Close()
	s.client = nil
	log.Printf("[dialog] service closed")
	return err
}

// Receive 返回下一个归一化事件。
// 致命错误以error类型事件返回一次，之后返回ErrClosed；
// 被中断的轮次事件被丢弃。
func (s *Service) Receive(ctx context.Context) (Event, error) {
	if s.closed.Load() {
		return Event{}, ErrClosed
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		// 错误优先
		select {
		case upErr := <-s.errorCh:
			return s.errorEvent(upErr)
		default:
		}

		select {
		case upErr := <-s.errorCh:
			return s.errorEvent(upErr)
		case resp := <-s.responseCh:
			if s.interrupted.Load() && resp.Event != speech.EventASRInfo {
				continue
			}
			if event, ok := s.convertResponse(resp); ok {
				return event, nil
			}
		case <-ticker.C:
			if !s.IsConnected() {
				s.closed.Store(true)
				return Event{
					Type: EventError,
					Data: map[string]interface{}{
						"message":  "连接已断开",
						"is_fatal": true,
						"code":     string(message.ErrNetwork),
					},
				}, nil
			}
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

func (s *Service) errorEvent(upErr upstreamError) (Event, error) {
	if upErr.fatal {
		s.closed.Store(true)
	}
	return Event{
		Type: EventError,
		Data: map[string]interface{}{"message": upErr.message, "is_fatal": upErr.fatal},
	}, nil
}

// convertResponse 将上游响应转换为归一化事件，
// 不需要转发的帧返回false
func (s *Service) convertResponse(resp *Response) (Event, bool) {
	switch resp.Event {
	case speech.EventASRInfo:
		// 用户开始说话，新一轮开始，解除中断
		s.interrupted.Store(false)
		questionID, _ := resp.Payload["question_id"].(string)
		return Event{
			Type: EventASRStarted,
			Data: map[string]interface{}{"question_id": questionID},
		}, true

	case speech.EventASRResponse:
		results, _ := resp.Payload["results"].([]interface{})
		for _, raw := range results {
			result, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			text, _ := result["text"].(string)
			if text == "" {
				continue
			}
			isInterim := true
			if v, ok := result["is_interim"].(bool); ok {
				isInterim = v
			}
			return Event{
				Type: EventASRResult,
				Data: map[string]interface{}{"text": text, "is_final": !isInterim},
			}, true
		}
		return Event{}, false

	case speech.EventASREnded:
		return Event{Type: EventASREnded, Data: map[string]interface{}{}}, true

	case speech.EventChatResponse:
		content, _ := resp.Payload["content"].(string)
		if content == "" {
			return Event{}, false
		}
		questionID, _ := resp.Payload["question_id"].(string)
		replyID, _ := resp.Payload["reply_id"].(string)
		return Event{
			Type: EventChatText,
			Data: map[string]interface{}{
				"text":        content,
				"question_id": questionID,
				"reply_id":    replyID,
			},
		}, true

	case speech.EventChatEnded:
		return Event{Type: EventChatEnded, Data: passthrough(resp.Payload)}, true

	case speech.EventTTSSentenceStart:
		ttsType, _ := resp.Payload["tts_type"].(string)
		if ttsType == "" {
			ttsType = "default"
		}
		text, _ := resp.Payload["text"].(string)
		return Event{
			Type: EventTTSStart,
			Data: map[string]interface{}{"tts_type": ttsType, "text": text},
		}, true

	case speech.EventTTSResponse:
		if !resp.IsAudio() || len(resp.Audio) == 0 {
			return Event{}, false
		}
		return Event{
			Type: EventTTSChunk,
			Data: map[string]interface{}{
				"audio": base64.StdEncoding.EncodeToString(resp.Audio),
			},
		}, true

	case speech.EventTTSEnded:
		return Event{Type: EventTTSEnded, Data: passthrough(resp.Payload)}, true
	}

	// 未知事件：记录后忽略
	log.Printf("[dialog] ignoring event %s", resp.Event.Name())
	return Event{}, false
}

func passthrough(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return map[string]interface{}{}
	}
	return payload
}

// onResponse 接收循环的响应回调，队列满时丢弃并告警
func (s *Service) onResponse(resp *Response) {
	select {
	case s.responseCh <- resp:
	default:
		log.Printf("[dialog] response queue full, dropping %s", resp.Event.Name())
	}
}

// onError 错误回调。致命错误阻塞写入，确保不被丢弃
func (s *Service) onError(msg string, fatal bool) {
	if fatal {
		s.errorCh <- upstreamError{message: msg, fatal: fatal}
		return
	}
	select {
	case s.errorCh <- upstreamError{message: msg, fatal: fatal}:
	default:
		log.Printf("[dialog] error queue full, dropping error: %s", msg)
	}
}
