package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/reallychenchi/Mapijing/internal/analysis/emotion"
	"github.com/reallychenchi/Mapijing/internal/model/chat"
	"github.com/reallychenchi/Mapijing/internal/model/message"
)

// ChatModel 对话模型的行为约定，流式与非流式两条路径
type ChatModel interface {
	ChatStreamer
	GenerateResponse(ctx context.Context, history []chat.Message, userMessage string) (*schema.Message, error)
}

// Conversation 会话服务：上下文管理、情绪追踪与流式处理的组合。
// 一个客户端连接对应一个实例。
type Conversation struct {
	llm       ChatModel
	processor *Processor
	history   *chat.Context

	mu      sync.Mutex
	emotion message.EmotionType
}

// NewConversation 创建会话服务
func NewConversation(llm ChatModel, tts Synthesizer, history *chat.Context) *Conversation {
	return &Conversation{
		llm:       llm,
		processor: NewProcessor(llm, tts),
		history:   history,
		emotion:   message.EmotionDefault,
	}
}

// Respond 处理一条用户输入并返回完整回复（非流式路径）
func (c *Conversation) Respond(ctx context.Context, userText string) (string, error) {
	history := c.history.Messages()
	c.history.AddUserMessage(userText)
	log.Printf("[conversation] user input: %s", truncateText(userText, 50))

	response, err := c.llm.GenerateResponse(ctx, history, userText)
	if err != nil {
		return "", fmt.Errorf("failed to generate response: %w", err)
	}

	parsed := emotion.Parse(response.Content)
	c.updateEmotion(parsed.Emotion, nil)

	c.history.AddAssistantMessage(response.Content)
	return parsed.Content, nil
}

// RespondStream 处理一条用户输入，逐句通过emit交付语音片段。
// 情绪变化通过onEmotionChange上报，仅在真正变化时触发。
func (c *Conversation) RespondStream(
	ctx context.Context,
	userText string,
	emit func(TTSChunk) error,
	onEmotionChange func(message.EmotionType),
) (string, error) {
	history := c.history.Messages()
	c.history.AddUserMessage(userText)
	log.Printf("[conversation] user input (stream): %s", truncateText(userText, 50))

	fullText, err := c.processor.Process(ctx, history, userText, emit, func(e message.EmotionType) {
		c.updateEmotion(e, onEmotionChange)
	})

	if fullText != "" {
		c.history.AddAssistantMessage(fullText)
		log.Printf("[conversation] stream completed, full text: %s", truncateText(fullText, 50))
	}
	return fullText, err
}

// Interrupt 中断当前流式处理
func (c *Conversation) Interrupt() {
	c.processor.Interrupt()
	log.Printf("[conversation] interrupted")
}

// CurrentEmotion 返回当前情绪状态
func (c *Conversation) CurrentEmotion() message.EmotionType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emotion
}

// Reset 清空上下文并恢复默认情绪
func (c *Conversation) Reset() {
	c.history.Clear()
	c.processor.Reset()

	c.mu.Lock()
	c.emotion = message.EmotionDefault
	c.mu.Unlock()

	log.Printf("[conversation] reset")
}

func (c *Conversation) updateEmotion(e message.EmotionType, onChange func(message.EmotionType)) {
	c.mu.Lock()
	changed := e != c.emotion
	if changed {
		log.Printf("[conversation] emotion changed: %s -> %s", c.emotion, e)
		c.emotion = e
	}
	c.mu.Unlock()

	if changed && onChange != nil {
		onChange(e)
	}
}

func truncateText(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
