package speech

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ProtocolVersion WebSocket二进制协议版本
const ProtocolVersion = 0b0001

// 协议解析错误
var (
	// ErrTruncated 帧中声明的长度超过剩余字节数
	ErrTruncated = errors.New("speech: truncated frame")
	// ErrBadVersion 协议版本不受支持
	ErrBadVersion = errors.New("speech: unsupported protocol version")
)

// MessageType 消息类型
type MessageType uint8

const (
	// FullClientRequest 包含请求参数的完整客户端请求
	FullClientRequest MessageType = 0b0001
	// AudioOnlyClient 只包含音频数据的客户端请求
	AudioOnlyClient MessageType = 0b0010
	// FullServerResponse 服务端返回的完整响应
	FullServerResponse MessageType = 0b1001
	// ServerACK 服务端音频响应（payload为音频字节）
	ServerACK MessageType = 0b1011
	// FrontendResult 服务端前端识别结果
	FrontendResult MessageType = 0b1100
	// ErrorMessage 服务端错误消息
	ErrorMessage MessageType = 0b1111
)

// MessageFlags 消息特定标志
type MessageFlags uint8

const (
	// NoSequence header后4个字节不为sequence number
	NoSequence MessageFlags = 0b0000
	// PositiveSequence header后4个字节为正数sequence number
	PositiveSequence MessageFlags = 0b0001
	// LastPacketNoSequence 最后一包，不带sequence number
	LastPacketNoSequence MessageFlags = 0b0010
	// NegativeSequence 最后一包，sequence number为负数
	NegativeSequence MessageFlags = 0b0011
	// WithEvent 消息携带事件元数据
	WithEvent MessageFlags = 0b0100
)

// SerializationMethod 序列化方法
type SerializationMethod uint8

const (
	// RawSerialization 无序列化（音频等二进制数据）
	RawSerialization SerializationMethod = 0b0000
	// JSONSerialization JSON序列化
	JSONSerialization SerializationMethod = 0b0001
)

// CompressionMethod 压缩方法
type CompressionMethod uint8

const (
	// NoCompression 无压缩
	NoCompression CompressionMethod = 0b0000
	// GzipCompression Gzip压缩
	GzipCompression CompressionMethod = 0b0001
)

// EventType 端到端对话协议事件
type EventType int32

// 客户端事件
const (
	EventStartConnection  EventType = 1
	EventFinishConnection EventType = 2
	EventStartSession     EventType = 100
	EventFinishSession    EventType = 102
	EventTaskRequest      EventType = 200
	EventSayHello         EventType = 300
	EventChatTTSText      EventType = 500
	EventChatTextQuery    EventType = 501
)

// 服务端事件
const (
	EventConnectionStarted      EventType = 50
	EventConnectionFailed       EventType = 51
	EventConnectionFinished     EventType = 52
	EventSessionStarted         EventType = 150
	EventSessionFinished        EventType = 152
	EventSessionFailed          EventType = 153
	EventUsageResponse          EventType = 154
	EventTTSSentenceStart       EventType = 350
	EventTTSSentenceEnd         EventType = 351
	EventTTSResponse            EventType = 352
	EventTTSEnded               EventType = 359
	EventASRInfo                EventType = 450
	EventASRResponse            EventType = 451
	EventASREnded               EventType = 459
	EventChatResponse           EventType = 550
	EventChatTextQueryConfirmed EventType = 553
	EventChatEnded              EventType = 559
	EventDialogCommonError      EventType = 599
)

// IsSessionLevel 判断事件是否为Session级别（事件ID >= 100时携带session id）
func (e EventType) IsSessionLevel() bool {
	return e >= 100
}

// Name 返回事件名称（用于日志）
func (e EventType) Name() string {
	switch e {
	case EventStartConnection:
		return "StartConnection"
	case EventFinishConnection:
		return "FinishConnection"
	case EventConnectionStarted:
		return "ConnectionStarted"
	case EventConnectionFailed:
		return "ConnectionFailed"
	case EventConnectionFinished:
		return "ConnectionFinished"
	case EventStartSession:
		return "StartSession"
	case EventFinishSession:
		return "FinishSession"
	case EventSessionStarted:
		return "SessionStarted"
	case EventSessionFinished:
		return "SessionFinished"
	case EventSessionFailed:
		return "SessionFailed"
	case EventUsageResponse:
		return "UsageResponse"
	case EventTaskRequest:
		return "TaskRequest"
	case EventSayHello:
		return "SayHello"
	case EventChatTTSText:
		return "ChatTTSText"
	case EventChatTextQuery:
		return "ChatTextQuery"
	case EventTTSSentenceStart:
		return "TTSSentenceStart"
	case EventTTSSentenceEnd:
		return "TTSSentenceEnd"
	case EventTTSResponse:
		return "TTSResponse"
	case EventTTSEnded:
		return "TTSEnded"
	case EventASRInfo:
		return "ASRInfo"
	case EventASRResponse:
		return "ASRResponse"
	case EventASREnded:
		return "ASREnded"
	case EventChatResponse:
		return "ChatResponse"
	case EventChatTextQueryConfirmed:
		return "ChatTextQueryConfirmed"
	case EventChatEnded:
		return "ChatEnded"
	case EventDialogCommonError:
		return "DialogCommonError"
	default:
		return fmt.Sprintf("UnknownEvent(%d)", int32(e))
	}
}

// Header WebSocket消息头
type Header struct {
	ProtocolVersion     uint8               // 4 bits
	HeaderSize          uint8               // 4 bits，以4字节为单位
	MessageType         MessageType         // 4 bits
	MessageFlags        MessageFlags        // 4 bits
	SerializationMethod SerializationMethod // 4 bits
	CompressionMethod   CompressionMethod   // 4 bits
	Reserved            uint8               // 8 bits
}

// Message WebSocket消息
type Message struct {
	Header      Header
	Sequence    int32 // 可选，取决于MessageFlags
	Event       EventType
	SessionID   string
	ErrorCode   uint32 // 仅ErrorMessage
	PayloadSize uint32
	Payload     []byte
}

// NewHeader 创建新的消息头
func NewHeader(msgType MessageType, flags MessageFlags, serialization SerializationMethod, compression CompressionMethod) Header {
	return Header{
		ProtocolVersion:     ProtocolVersion,
		HeaderSize:          0b0001, // 4字节头
		MessageType:         msgType,
		MessageFlags:        flags,
		SerializationMethod: serialization,
		CompressionMethod:   compression,
		Reserved:            0x00,
	}
}

// Encode 编码消息头为4字节
func (h *Header) Encode() []byte {
	buf := make([]byte, 4)
	buf[0] = (h.ProtocolVersion << 4) | h.HeaderSize
	buf[1] = (uint8(h.MessageType) << 4) | uint8(h.MessageFlags)
	buf[2] = (uint8(h.SerializationMethod) << 4) | uint8(h.CompressionMethod)
	buf[3] = h.Reserved
	return buf
}

// DecodeHeader 从4字节解码消息头
func DecodeHeader(data []byte) (*Header, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: header needs 4 bytes, got %d", ErrTruncated, len(data))
	}

	header := &Header{
		ProtocolVersion:     (data[0] >> 4) & 0x0F,
		HeaderSize:          data[0] & 0x0F,
		MessageType:         MessageType((data[1] >> 4) & 0x0F),
		MessageFlags:        MessageFlags(data[1] & 0x0F),
		SerializationMethod: SerializationMethod((data[2] >> 4) & 0x0F),
		CompressionMethod:   CompressionMethod(data[2] & 0x0F),
		Reserved:            data[3],
	}

	if header.ProtocolVersion != ProtocolVersion {
		return nil, fmt.Errorf("%w: got %d", ErrBadVersion, header.ProtocolVersion)
	}

	return header, nil
}

// hasSequence sequence字段仅在PositiveSequence/NegativeSequence标志下存在。
// LastPacketNoSequence虽然置了0b0010位，但按协议不携带sequence。
func hasSequence(flags MessageFlags) bool {
	switch flags & 0b0011 {
	case PositiveSequence, NegativeSequence:
		return true
	default:
		return false
	}
}

// EncodeMessage 编码完整消息
func EncodeMessage(msg *Message) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	buf.Write(msg.Header.Encode())

	if hasSequence(msg.Header.MessageFlags) {
		seqBytes := make([]byte, 4)
		binary.BigEndian.PutUint32(seqBytes, uint32(msg.Sequence))
		buf.Write(seqBytes)
	}

	if msg.Header.MessageFlags&WithEvent == WithEvent {
		eventBytes := make([]byte, 4)
		binary.BigEndian.PutUint32(eventBytes, uint32(msg.Event))
		buf.Write(eventBytes)

		// Connection级别事件（ID < 100）不携带session段
		if msg.Event.IsSessionLevel() {
			session := []byte(msg.SessionID)
			sizeBytes := make([]byte, 4)
			binary.BigEndian.PutUint32(sizeBytes, uint32(len(session)))
			buf.Write(sizeBytes)
			buf.Write(session)
		}
	}

	if msg.Header.MessageType == ErrorMessage {
		codeBytes := make([]byte, 4)
		binary.BigEndian.PutUint32(codeBytes, msg.ErrorCode)
		buf.Write(codeBytes)
	}

	sizeBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(sizeBytes, uint32(len(msg.Payload)))
	buf.Write(sizeBytes)
	buf.Write(msg.Payload)

	return buf.Bytes(), nil
}

// DecodeMessage 解码完整消息
func DecodeMessage(reader io.Reader) (*Message, error) {
	headerBytes := make([]byte, 4)
	if _, err := io.ReadFull(reader, headerBytes); err != nil {
		return nil, truncated("header", err)
	}

	header, err := DecodeHeader(headerBytes)
	if err != nil {
		return nil, err
	}

	msg := &Message{Header: *header}

	// 补齐可选的扩展header（按4字节单位）
	extraHeaderBytes := int(header.HeaderSize)*4 - 4
	if extraHeaderBytes > 0 {
		extra := make([]byte, extraHeaderBytes)
		if _, err := io.ReadFull(reader, extra); err != nil {
			return nil, truncated("extended header", err)
		}
	}

	if hasSequence(header.MessageFlags) {
		seqBytes := make([]byte, 4)
		if _, err := io.ReadFull(reader, seqBytes); err != nil {
			return nil, truncated("sequence", err)
		}
		msg.Sequence = int32(binary.BigEndian.Uint32(seqBytes))
	}

	if header.MessageFlags&WithEvent == WithEvent {
		eventBytes := make([]byte, 4)
		if _, err := io.ReadFull(reader, eventBytes); err != nil {
			return nil, truncated("event", err)
		}
		msg.Event = EventType(int32(binary.BigEndian.Uint32(eventBytes)))

		if msg.Event.IsSessionLevel() {
			sizeBytes := make([]byte, 4)
			if _, err := io.ReadFull(reader, sizeBytes); err != nil {
				return nil, truncated("session id size", err)
			}
			if size := binary.BigEndian.Uint32(sizeBytes); size > 0 {
				session := make([]byte, size)
				if _, err := io.ReadFull(reader, session); err != nil {
					return nil, truncated("session id", err)
				}
				msg.SessionID = string(session)
			}
		}
	}

	if header.MessageType == ErrorMessage {
		codeBytes := make([]byte, 4)
		if _, err := io.ReadFull(reader, codeBytes); err != nil {
			return nil, truncated("error code", err)
		}
		msg.ErrorCode = binary.BigEndian.Uint32(codeBytes)
	}

	sizeBytes := make([]byte, 4)
	if _, err := io.ReadFull(reader, sizeBytes); err != nil {
		return nil, truncated("payload size", err)
	}
	msg.PayloadSize = binary.BigEndian.Uint32(sizeBytes)

	if msg.PayloadSize > 0 {
		msg.Payload = make([]byte, msg.PayloadSize)
		if _, err := io.ReadFull(reader, msg.Payload); err != nil {
			return nil, truncated("payload", err)
		}
	}

	return msg, nil
}

func truncated(field string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: reading %s", ErrTruncated, field)
	}
	return fmt.Errorf("failed to read %s: %w", field, err)
}

// BuildEventFrame 构建带事件ID的JSON消息帧（端到端对话协议）。
// payload序列化为JSON并gzip压缩；Connection级别事件省略session段。
func BuildEventFrame(event EventType, sessionID string, payload any) ([]byte, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	compressed, err := CompressPayload(payloadBytes, GzipCompression)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		Header:    NewHeader(FullClientRequest, WithEvent, JSONSerialization, GzipCompression),
		Event:     event,
		SessionID: sessionID,
		Payload:   compressed,
	}
	return EncodeMessage(msg)
}

// BuildAudioFrame 构建音频数据帧（端到端对话协议，PCM经gzip压缩）。
func BuildAudioFrame(event EventType, sessionID string, audio []byte) ([]byte, error) {
	compressed, err := CompressPayload(audio, GzipCompression)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		Header:    NewHeader(AudioOnlyClient, WithEvent, RawSerialization, GzipCompression),
		Event:     event,
		SessionID: sessionID,
		Payload:   compressed,
	}
	return EncodeMessage(msg)
}

// CreateFullClientRequest 创建完整客户端请求消息（无事件ID，分阶段ASR使用）
func CreateFullClientRequest(payload []byte, compression CompressionMethod) *Message {
	return &Message{
		Header:  NewHeader(FullClientRequest, NoSequence, JSONSerialization, compression),
		Payload: payload,
	}
}

// CreateAudioOnlyRequest 创建音频请求消息（分阶段ASR使用）。
// 非最后一包使用正数sequence，最后一包sequence取负。
func CreateAudioOnlyRequest(audioData []byte, sequence int32, isLast bool, compression CompressionMethod) *Message {
	flags := PositiveSequence
	if isLast {
		flags = NegativeSequence
		sequence = -sequence
	}

	return &Message{
		Header:   NewHeader(AudioOnlyClient, flags, RawSerialization, compression),
		Sequence: sequence,
		Payload:  audioData,
	}
}

// IsLastPacket 判断是否为最后一包
func (m *Message) IsLastPacket() bool {
	switch m.Header.MessageFlags & 0b0011 {
	case LastPacketNoSequence, NegativeSequence:
		return true
	default:
		return false
	}
}

// IsErrorMessage 判断是否为错误消息
func (m *Message) IsErrorMessage() bool {
	return m.Header.MessageType == ErrorMessage
}

// DecodedPayload 返回解压后的payload字节
func (m *Message) DecodedPayload() ([]byte, error) {
	return DecompressPayload(m.Payload, m.Header.CompressionMethod)
}
