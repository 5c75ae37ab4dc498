package message

import "time"

// ClientMessageType 客户端发往网关的消息类型
type ClientMessageType string

const (
	ClientStartSession  ClientMessageType = "start_session"
	ClientAudioData     ClientMessageType = "audio_data"
	ClientAudioEnd      ClientMessageType = "audio_end"
	ClientTextQuery     ClientMessageType = "text_query"
	ClientSayHello      ClientMessageType = "say_hello"
	ClientInterrupt     ClientMessageType = "interrupt"
	ClientFinishSession ClientMessageType = "finish_session"
)

// ServerMessageType 网关发往客户端的消息类型
type ServerMessageType string

const (
	ServerSessionStarted ServerMessageType = "session_started"
	ServerASRResult      ServerMessageType = "asr_result"
	ServerASREnd         ServerMessageType = "asr_end"
	ServerChatText       ServerMessageType = "chat_text"
	ServerTTSChunk       ServerMessageType = "tts_chunk"
	ServerTTSEnd         ServerMessageType = "tts_end"
	ServerEmotion        ServerMessageType = "emotion"
	ServerError          ServerMessageType = "error"
)

// ErrorCode 统一的错误分类
type ErrorCode string

const (
	ErrASR     ErrorCode = "ASR_ERROR"
	ErrLLM     ErrorCode = "LLM_ERROR"
	ErrTTS     ErrorCode = "TTS_ERROR"
	ErrNetwork ErrorCode = "NETWORK_ERROR"
	ErrUnknown ErrorCode = "UNKNOWN_ERROR"
)

// EmotionType AI回复的情绪标签
type EmotionType string

const (
	EmotionDefault  EmotionType = "默认陪伴"
	EmotionEmpathy  EmotionType = "共情倾听"
	EmotionComfort  EmotionType = "安慰支持"
	EmotionCheerful EmotionType = "轻松愉悦"
)

// AllEmotions 合法情绪枚举（/api/config 返回）
func AllEmotions() []EmotionType {
	return []EmotionType{EmotionDefault, EmotionEmpathy, EmotionComfort, EmotionCheerful}
}

// IsValidEmotion 判断情绪是否在枚举内
func IsValidEmotion(e EmotionType) bool {
	switch e {
	case EmotionDefault, EmotionEmpathy, EmotionComfort, EmotionCheerful:
		return true
	default:
		return false
	}
}

// ClientEnvelope 客户端入站消息信封
type ClientEnvelope struct {
	Type ClientMessageType      `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// ServerEnvelope 网关出站消息信封，timestamp为毫秒时间戳
type ServerEnvelope struct {
	Type      ServerMessageType `json:"type"`
	Data      interface{}       `json:"data"`
	Timestamp int64             `json:"timestamp"`
}

// NewServerEnvelope 创建带当前时间戳的出站信封
func NewServerEnvelope(msgType ServerMessageType, data interface{}) ServerEnvelope {
	return ServerEnvelope{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
}

// ErrorData error信封的data字段
type ErrorData struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// NewErrorEnvelope 创建错误信封
func NewErrorEnvelope(code ErrorCode, msg string) ServerEnvelope {
	return NewServerEnvelope(ServerError, ErrorData{Code: code, Message: msg})
}
