package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ASRConfig 流式语音识别服务配置
type ASRConfig struct {
	AppID     string
	AccessKey string
	URL       string
}

// ASRResult 一条识别结果
type ASRResult struct {
	Text    string
	IsFinal bool
}

// StreamingASR 火山引擎流式语音识别客户端。
// 识别结果与错误通过channel交付，由接收goroutine直接写入。
type StreamingASR struct {
	config ASRConfig
	dialer *websocket.Dialer

	conn      *websocket.Conn
	sessionID string

	results chan ASRResult
	errs    chan error
	done    chan struct{}
}

// NewStreamingASR 创建流式ASR客户端
func NewStreamingASR(config ASRConfig) *StreamingASR {
	return &StreamingASR{
		config: config,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 30 * time.Second,
		},
	}
}

type asrConfigRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	Audio struct {
		Format     string `json:"format"`
		SampleRate int    `json:"sample_rate"`
		Bits       int    `json:"bits"`
		Channel    int    `json:"channel"`
		Codec      string `json:"codec"`
	} `json:"audio"`
	Request struct {
		ModelName  string `json:"model_name"`
		EnableITN  bool   `json:"enable_itn"`
		EnablePunc bool   `json:"enable_punc"`
		ResultType string `json:"result_type"`
	} `json:"request"`
}

type asrServerResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Result  struct {
		Text         string `json:"text"`
		UtteranceEnd bool   `json:"utterance_end"`
	} `json:"result"`
}

// Results 返回识别结果channel
func (c *StreamingASR) Results() <-chan ASRResult {
	return c.results
}

// Errors 返回错误channel
func (c *StreamingASR) Errors() <-chan error {
	return c.errs
}

// Connect 建立连接，发送初始配置并启动接收循环
func (c *StreamingASR) Connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	c.sessionID = uuid.New().String()

	header := http.Header{}
	header.Set("X-Api-Resource-Id", "volc.bigasr.sauc.duration")
	header.Set("X-Api-Access-Key", c.config.AccessKey)
	header.Set("X-Api-App-Key", c.config.AppID)
	header.Set("X-Api-Request-Id", c.sessionID)

	conn, resp, err := c.dialer.DialContext(ctx, c.config.URL, header)
	if err != nil {
		return fmt.Errorf("failed to connect to ASR service: %w", err)
	}

	if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
		log.Printf("[asr] connected, logid=%s", logid)
	}

	c.conn = conn
	c.results = make(chan ASRResult, 32)
	c.errs = make(chan error, 4)
	c.done = make(chan struct{})

	if err := c.sendConfig(); err != nil {
		conn.Close()
		c.conn = nil
		return err
	}

	go c.receiveLoop()

	return nil
}

// sendConfig 发送初始配置请求
func (c *StreamingASR) sendConfig() error {
	var cfg asrConfigRequest
	cfg.User.UID = c.sessionID
	cfg.Audio.Format = "pcm"
	cfg.Audio.SampleRate = 16000
	cfg.Audio.Bits = 16
	cfg.Audio.Channel = 1
	cfg.Audio.Codec = "raw"
	cfg.Request.ModelName = "bigmodel"
	cfg.Request.EnableITN = true
	cfg.Request.EnablePunc = true
	cfg.Request.ResultType = "single"

	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal ASR config: %w", err)
	}

	compressed, err := CompressPayload(payload, GzipCompression)
	if err != nil {
		return err
	}

	frame, err := EncodeMessage(CreateFullClientRequest(compressed, GzipCompression))
	if err != nil {
		return fmt.Errorf("failed to encode ASR config: %w", err)
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// SendAudio 发送一包音频。最后一包seq取负，通知服务端收尾。
func (c *StreamingASR) SendAudio(audio []byte, seq int32, isLast bool) error {
	if c.conn == nil {
		log.Printf("[asr] not connected, audio dropped")
		return nil
	}

	compressed, err := CompressPayload(audio, GzipCompression)
	if err != nil {
		return err
	}

	frame, err := EncodeMessage(CreateAudioOnlyRequest(compressed, seq, isLast, GzipCompression))
	if err != nil {
		return fmt.Errorf("failed to encode audio frame: %w", err)
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// receiveLoop 读取识别结果直到连接关闭
func (c *StreamingASR) receiveLoop() {
	defer close(c.done)
	defer close(c.results)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := DecodeMessage(bytes.NewReader(data))
		if err != nil {
			log.Printf("[asr] failed to decode frame: %v", err)
			continue
		}

		switch msg.Header.MessageType {
		case ErrorMessage:
			c.reportError(fmt.Errorf("ASR error %d: %s", msg.ErrorCode, decodeErrorPayload(msg)))
			return

		case FullServerResponse:
			payload, err := msg.DecodedPayload()
			if err != nil {
				log.Printf("[asr] failed to decompress payload: %v", err)
				continue
			}

			var resp asrServerResponse
			if err := json.Unmarshal(payload, &resp); err != nil {
				log.Printf("[asr] failed to unmarshal response: %v", err)
				continue
			}

			if resp.Code != 0 && resp.Code != 20000000 {
				c.reportError(fmt.Errorf("ASR error %d: %s", resp.Code, resp.Message))
				return
			}

			if resp.Result.Text != "" {
				result := ASRResult{
					Text:    resp.Result.Text,
					IsFinal: resp.Result.UtteranceEnd || msg.IsLastPacket(),
				}
				select {
				case c.results <- result:
				default:
					log.Printf("[asr] result queue full, dropping result")
				}
			}

		default:
			// 其他类型（如音频ACK）直接忽略
		}
	}
}

func (c *StreamingASR) reportError(err error) {
	select {
	case c.errs <- err:
	default:
		log.Printf("[asr] error queue full, dropping: %v", err)
	}
}

// decodeErrorPayload 从错误帧中提取人类可读的消息
func decodeErrorPayload(msg *Message) string {
	payload, err := msg.DecodedPayload()
	if err != nil || len(payload) == 0 {
		return "unknown error"
	}

	var decoded struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &decoded); err == nil && decoded.Message != "" {
		return decoded.Message
	}
	return string(payload)
}

// Close 关闭连接并等待接收循环退出
func (c *StreamingASR) Close() error {
	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	<-c.done
	c.conn = nil
	return err
}
