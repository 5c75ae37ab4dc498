package chat

// 对话消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message 对话历史中的一条消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
