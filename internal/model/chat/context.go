package chat

import (
	"log"
	"sync"
)

// 上下文裁剪默认值
const (
	DefaultMaxTokens       = 50000
	DefaultCharsPerToken   = 1.5
	DefaultMinHistoryCount = 2
)

// Context 有界的对话历史。按估算token数从头部裁剪，
// 但始终保留最近 minHistoryCount 组对话。
type Context struct {
	mu              sync.Mutex
	messages        []Message
	maxTokens       int
	charsPerToken   float64
	minHistoryCount int
}

// NewContext 创建对话上下文，参数非法时回落到默认值
func NewContext(maxTokens int, charsPerToken float64, minHistoryCount int) *Context {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	if minHistoryCount <= 0 {
		minHistoryCount = DefaultMinHistoryCount
	}
	return &Context{
		maxTokens:       maxTokens,
		charsPerToken:   charsPerToken,
		minHistoryCount: minHistoryCount,
	}
}

// AddUserMessage 追加用户消息并裁剪
func (c *Context) AddUserMessage(content string) {
	c.add(Message{Role: RoleUser, Content: content})
}

// AddAssistantMessage 追加AI消息并裁剪
func (c *Context) AddAssistantMessage(content string) {
	c.add(Message{Role: RoleAssistant, Content: content})
}

func (c *Context) add(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = append(c.messages, msg)
	c.trimLocked()
}

// trimLocked 超出token预算时从头部成组移除。
// 移除一条后若新头部是assistant，再移除一条以保持user/assistant对齐。
func (c *Context) trimLocked() {
	for c.estimateTokensLocked() > c.maxTokens && len(c.messages) > 2*c.minHistoryCount {
		removed := c.messages[0]
		c.messages = c.messages[1:]
		if len(c.messages) > 0 && c.messages[0].Role == RoleAssistant {
			c.messages = c.messages[1:]
		}
		log.Printf("[context] trimmed history head (role=%s, %d chars), %d messages remain",
			removed.Role, len([]rune(removed.Content)), len(c.messages))
	}
}

func (c *Context) estimateTokensLocked() int {
	total := 0
	for _, msg := range c.messages {
		total += len([]rune(msg.Content))
	}
	return int(float64(total) / c.charsPerToken)
}

// EstimateTokens 返回当前历史的估算token数
func (c *Context) EstimateTokens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.estimateTokensLocked()
}

// Messages 返回历史消息的拷贝
func (c *Context) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len 返回历史消息条数
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Clear 清空历史
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}
