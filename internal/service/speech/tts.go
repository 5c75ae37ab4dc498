package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// TTSConfig 语音合成服务配置
type TTSConfig struct {
	AppID     string
	AccessKey string
	Voice     string
	URL       string
}

// TTSClient 火山引擎单向流式语音合成客户端。
// 每次合成建立一条短连接，聚合全部音频块后返回。
type TTSClient struct {
	config TTSConfig
	dialer *websocket.Dialer
}

// NewTTSClient 创建TTS客户端
func NewTTSClient(config TTSConfig) *TTSClient {
	return &TTSClient{
		config: config,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 30 * time.Second,
		},
	}
}

type ttsRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string         `json:"speaker"`
		Text        string         `json:"text"`
		AudioParams ttsAudioParams `json:"audio_params"`
	} `json:"req_params"`
}

type ttsAudioParams struct {
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
}

// Synthesize 合成一段文本，返回完整的MP3音频
func (c *TTSClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("TTS text is empty")
	}

	connectID := uuid.New().String()

	header := http.Header{}
	header.Set("X-Api-App-Key", c.config.AppID)
	header.Set("X-Api-Access-Key", c.config.AccessKey)
	header.Set("X-Api-Resource-Id", resolveTTSResource(c.config.Voice))
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := c.dialer.DialContext(ctx, c.config.URL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to TTS service: %w", err)
	}
	defer conn.Close()

	if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
		log.Printf("[tts] connected, logid=%s", logid)
	}

	var req ttsRequest
	req.User.UID = connectID
	req.ReqParams.Speaker = c.config.Voice
	req.ReqParams.Text = text
	req.ReqParams.AudioParams.Format = "mp3"
	req.ReqParams.AudioParams.SampleRate = 24000

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TTS request: %w", err)
	}

	frame, err := EncodeMessage(CreateFullClientRequest(payload, NoCompression))
	if err != nil {
		return nil, fmt.Errorf("failed to encode TTS request: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return nil, fmt.Errorf("failed to send TTS request: %w", err)
	}

	return c.collectAudio(ctx, conn)
}

// collectAudio 聚合服务端返回的音频块直到最后一包
func (c *TTSClient) collectAudio(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	var audioBuffer bytes.Buffer

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read TTS response: %w", err)
		}

		msg, err := DecodeMessage(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode TTS message: %w", err)
		}

		switch msg.Header.MessageType {
		case ErrorMessage:
			return nil, fmt.Errorf("TTS error %d: %s", msg.ErrorCode, decodeErrorPayload(msg))

		case ServerACK:
			chunk, err := msg.DecodedPayload()
			if err != nil {
				return nil, fmt.Errorf("failed to decompress audio chunk: %w", err)
			}
			audioBuffer.Write(chunk)
			if msg.IsLastPacket() {
				return finalizeAudio(&audioBuffer)
			}

		case FullServerResponse:
			payload, err := msg.DecodedPayload()
			if err != nil {
				return nil, fmt.Errorf("failed to decompress TTS payload: %w", err)
			}

			var serverResp ttsServerMessage
			if len(payload) > 0 {
				if err := json.Unmarshal(payload, &serverResp); err != nil {
					log.Printf("[tts] failed to unmarshal payload: %v", err)
				} else {
					if serverResp.Code != 0 && serverResp.Code != 3000 {
						return nil, fmt.Errorf("TTS API error %d: %s", serverResp.Code, serverResp.Message)
					}
					if serverResp.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(serverResp.Data)
						if err != nil {
							return nil, fmt.Errorf("failed to decode base64 audio: %w", err)
						}
						audioBuffer.Write(chunk)
					}
				}
			}

			if msg.IsLastPacket() || serverResp.Sequence < 0 ||
				(msg.Header.MessageFlags&WithEvent == WithEvent && msg.Event == EventSessionFinished) {
				return finalizeAudio(&audioBuffer)
			}

		default:
			log.Printf("[tts] unexpected message type: %d", msg.Header.MessageType)
		}
	}
}

func finalizeAudio(buf *bytes.Buffer) ([]byte, error) {
	if buf.Len() == 0 {
		return nil, fmt.Errorf("TTS audio is empty")
	}
	return buf.Bytes(), nil
}

// resolveTTSResource 根据发音人选择资源ID
func resolveTTSResource(voice string) string {
	normalized := strings.ToLower(strings.TrimSpace(voice))
	if strings.HasPrefix(voice, "S_") {
		return "volc.megatts.default"
	}
	if strings.Contains(normalized, "bigtts") || strings.Contains(normalized, "seed") {
		return "seed-tts-2.0"
	}
	return "volc.service_type.10029"
}
