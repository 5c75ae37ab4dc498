package dialog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/reallychenchi/Mapijing/internal/service/speech"
)

// Response 上游解码后的响应帧
type Response struct {
	Event       speech.EventType
	MessageType speech.MessageType
	SessionID   string
	// Payload JSON载荷（已解压并反序列化），音频帧为nil
	Payload map[string]interface{}
	// Audio SERVER_ACK帧的音频字节（已解压）
	Audio []byte
}

// IsAudio 判断是否为音频帧
func (r *Response) IsAudio() bool {
	return r.MessageType == speech.ServerACK
}

// Client 端到端实时语音对话WebSocket客户端。
// 持有一条上游连接；发送由调用方串行化（内部写锁），
// 接收由唯一的receive goroutine完成。
type Client struct {
	config    *Config
	sessionID string

	onResponse func(*Response)
	onError    func(msg string, fatal bool)

	connectID string
	dialer    *websocket.Dialer

	writeMu sync.Mutex
	conn    *websocket.Conn

	connected      atomic.Bool
	sessionStarted atomic.Bool

	logid string
	done  chan struct{}
}

// NewClient 创建上游客户端
func NewClient(config *Config, sessionID string, onResponse func(*Response), onError func(string, bool)) *Client {
	return &Client{
		config:     config,
		sessionID:  sessionID,
		onResponse: onResponse,
		onError:    onError,
		connectID:  uuid.New().String(),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 30 * time.Second,
		},
	}
}

// IsConnected 检查是否已连接
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// IsSessionStarted 检查会话是否已启动
func (c *Client) IsSessionStarted() bool {
	return c.sessionStarted.Load()
}

// Logid 返回服务端日志ID（用于问题排查）
func (c *Client) Logid() string {
	return c.logid
}

// Connect 建立上游连接，发送StartConnection并启动接收循环
func (c *Client) Connect(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}

	header := http.Header{}
	header.Set("X-Api-App-ID", c.config.AppID)
	header.Set("X-Api-Access-Key", c.config.AccessKey)
	header.Set("X-Api-Resource-Id", ResourceID)
	header.Set("X-Api-App-Key", AppKey)
	header.Set("X-Api-Connect-Id", c.connectID)

	log.Printf("[dialog] connecting to %s, connect_id=%s", c.config.BaseURL, c.connectID)

	conn, resp, err := c.dialer.DialContext(ctx, c.config.BaseURL, header)
	if err != nil {
		c.onError(fmt.Sprintf("连接上游服务失败: %v", err), true)
		return fmt.Errorf("failed to dial dialogue service: %w", err)
	}

	// 上游不回应ping，不设置心跳
	c.logid = resp.Header.Get("X-Tt-Logid")
	log.Printf("[dialog] connected, logid=%s", c.logid)

	c.conn = conn
	c.done = make(chan struct{})
	c.connected.Store(true)

	if err := c.sendEventFrame(speech.EventStartConnection, nil); err != nil {
		c.connected.Store(false)
		conn.Close()
		return fmt.Errorf("failed to send StartConnection: %w", err)
	}

	go c.receiveLoop()

	return nil
}

// StartSession 发送StartSession事件。会话是否就绪由后续的
// SessionStarted事件确认，调用方自行等待。
func (c *Client) StartSession(inputMod string) error {
	if !c.connected.Load() {
		return fmt.Errorf("cannot start session: not connected")
	}
	if c.sessionStarted.Load() {
		return nil
	}

	payload := c.config.StartSessionPayload(inputMod)
	if err := c.sendEventFrame(speech.EventStartSession, payload); err != nil {
		return fmt.Errorf("failed to send StartSession: %w", err)
	}
	log.Printf("[dialog] StartSession sent, session_id=%s, input_mod=%s", c.sessionID, inputMod)
	return nil
}

// SendAudio 发送一包PCM音频（16kHz/16bit/mono）。
// 会话未就绪时丢弃并告警。
func (c *Client) SendAudio(audio []byte) error {
	if !c.connected.Load() || !c.sessionStarted.Load() {
		log.Printf("[dialog] dropping audio: session not ready")
		return nil
	}

	frame, err := speech.BuildAudioFrame(speech.EventTaskRequest, c.sessionID, audio)
	if err != nil {
		return fmt.Errorf("failed to build audio frame: %w", err)
	}
	return c.writeFrame(frame)
}

// SendTextQuery 发送文本查询
func (c *Client) SendTextQuery(text string) error {
	if !c.connected.Load() || !c.sessionStarted.Load() {
		log.Printf("[dialog] dropping text query: session not ready")
		return nil
	}

	if err := c.sendSessionEvent(speech.EventChatTextQuery, map[string]string{"content": text}); err != nil {
		return err
	}
	log.Printf("[dialog] TextQuery sent: %s", truncateForLog(text, 50))
	return nil
}

// SayHello 发送打招呼消息
func (c *Client) SayHello(content string) error {
	if !c.connected.Load() || !c.sessionStarted.Load() {
		log.Printf("[dialog] dropping say hello: session not ready")
		return nil
	}
	if content == "" {
		content = DefaultGreeting
	}

	if err := c.sendSessionEvent(speech.EventSayHello, map[string]string{"content": content}); err != nil {
		return err
	}
	log.Printf("[dialog] SayHello sent: %s", truncateForLog(content, 30))
	return nil
}

// FinishSession 结束会话，保持WebSocket连接。
// sessionStarted乐观清零，上游仍会回SessionFinished。
func (c *Client) FinishSession() error {
	if !c.connected.Load() {
		return nil
	}

	if err := c.sendSessionEvent(speech.EventFinishSession, nil); err != nil {
		return err
	}
	c.sessionStarted.Store(false)
	log.Printf("[dialog] FinishSession sent")
	return nil
}

// FinishConnection 发送Connection级别的结束事件
func (c *Client) FinishConnection() error {
	if !c.connected.Load() {
		return nil
	}
	return c.sendEventFrame(speech.EventFinishConnection, nil)
}

// Close 关闭连接并等待接收循环退出
func (c *Client) Close() error {
	c.connected.Store(false)
	c.sessionStarted.Store(false)

	if c.conn != nil {
		err := c.conn.Close()
		if c.done != nil {
			<-c.done
		}
		c.conn = nil
		log.Printf("[dialog] client closed, logid=%s", c.logid)
		return err
	}
	return nil
}

func (c *Client) sendSessionEvent(event speech.EventType, payload interface{}) error {
	if err := c.sendEventFrame(event, payload); err != nil {
		return fmt.Errorf("failed to send %s: %w", event.Name(), err)
	}
	return nil
}

func (c *Client) sendEventFrame(event speech.EventType, payload interface{}) error {
	frame, err := speech.BuildEventFrame(event, c.sessionID, payload)
	if err != nil {
		return err
	}
	return c.writeFrame(frame)
}

func (c *Client) writeFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("connection closed")
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// receiveLoop 持续读取上游帧直到连接关闭
func (c *Client) receiveLoop() {
	defer close(c.done)
	defer func() {
		c.connected.Store(false)
		c.sessionStarted.Store(false)
	}()

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.connected.Load() {
				log.Printf("[dialog] upstream connection closed: %v", err)
				c.onError(fmt.Sprintf("上游连接已断开: %v", err), true)
			}
			return
		}

		if msgType != websocket.BinaryMessage {
			log.Printf("[dialog] ignoring non-binary message type %d", msgType)
			continue
		}

		msg, err := speech.DecodeMessage(bytes.NewReader(data))
		if err != nil {
			// 解析失败只丢弃该帧，会话继续
			log.Printf("[dialog] failed to decode frame: %v", err)
			continue
		}

		c.handleMessage(msg)
	}
}

// handleMessage 维护会话状态标志并分发响应
func (c *Client) handleMessage(msg *speech.Message) {
	resp, err := decodeResponse(msg)
	if err != nil {
		log.Printf("[dialog] failed to decode payload for event %s: %v", msg.Event.Name(), err)
		return
	}

	switch resp.Event {
	case speech.EventSessionStarted:
		c.sessionStarted.Store(true)
		log.Printf("[dialog] session started, dialog_id=%v", resp.Payload["dialog_id"])
	case speech.EventSessionFinished:
		c.sessionStarted.Store(false)
		log.Printf("[dialog] session finished")
	case speech.EventSessionFailed:
		c.sessionStarted.Store(false)
		errMsg := payloadErrorMessage(resp.Payload, "session failed")
		log.Printf("[dialog] session failed: %s", errMsg)
		c.onError(errMsg, true)
		return
	case speech.EventDialogCommonError:
		statusCode := resp.Payload["status_code"]
		errMsg := payloadErrorMessage(resp.Payload, "dialog error")
		log.Printf("[dialog] dialog error: %v - %s", statusCode, errMsg)
		c.onError(fmt.Sprintf("%v: %s", statusCode, errMsg), false)
		return
	}

	if msg.IsErrorMessage() {
		errMsg := payloadErrorMessage(resp.Payload, "unknown server error")
		log.Printf("[dialog] server error (code=%d): %s", msg.ErrorCode, errMsg)
		c.onError(errMsg, false)
		return
	}

	c.onResponse(resp)
}

// decodeResponse 解压payload并按序列化方式反序列化
func decodeResponse(msg *speech.Message) (*Response, error) {
	resp := &Response{
		Event:       msg.Event,
		MessageType: msg.Header.MessageType,
		SessionID:   msg.SessionID,
	}

	if len(msg.Payload) == 0 {
		return resp, nil
	}

	payload, err := msg.DecodedPayload()
	if err != nil {
		return nil, err
	}

	if msg.Header.MessageType == speech.ServerACK {
		resp.Audio = payload
		return resp, nil
	}

	if msg.Header.SerializationMethod == speech.JSONSerialization {
		var decoded map[string]interface{}
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, err
		}
		resp.Payload = decoded
	}

	return resp, nil
}

func payloadErrorMessage(payload map[string]interface{}, fallback string) string {
	for _, key := range []string{"error", "message"} {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}
	return fallback
}

func truncateForLog(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
