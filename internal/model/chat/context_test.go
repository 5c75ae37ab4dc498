package chat

import (
	"strings"
	"testing"
)

func TestContextTrimKeepsRecentPairs(t *testing.T) {
	ctx := NewContext(50, 1, 1)

	long := strings.Repeat("测", 20)
	for i := 0; i < 5; i++ {
		ctx.AddUserMessage(long)
		ctx.AddAssistantMessage(long)
	}

	n := ctx.Len()
	if n < 2 || n > 4 {
		t.Fatalf("message count after trim = %d, want within [2,4]", n)
	}

	// 最近一组对话必须保留
	msgs := ctx.Messages()
	if msgs[len(msgs)-2].Role != RoleUser || msgs[len(msgs)-1].Role != RoleAssistant {
		t.Fatalf("most recent pair not preserved, tail roles: %s, %s",
			msgs[len(msgs)-2].Role, msgs[len(msgs)-1].Role)
	}
}

func TestContextTrimInvariant(t *testing.T) {
	ctx := NewContext(100, 1, 2)

	for i := 0; i < 30; i++ {
		ctx.AddUserMessage(strings.Repeat("a", 15))
		ctx.AddAssistantMessage(strings.Repeat("b", 15))

		if ctx.EstimateTokens() > 100 && ctx.Len() > 4 {
			t.Fatalf("after append %d: tokens=%d len=%d violates trim invariant",
				i, ctx.EstimateTokens(), ctx.Len())
		}
	}
}

func TestContextHeadAlignment(t *testing.T) {
	ctx := NewContext(40, 1, 1)

	ctx.AddUserMessage(strings.Repeat("u", 20))
	ctx.AddAssistantMessage(strings.Repeat("a", 20))
	ctx.AddUserMessage(strings.Repeat("u", 20))
	ctx.AddAssistantMessage(strings.Repeat("a", 20))

	// 裁剪后头部不应是assistant消息
	msgs := ctx.Messages()
	if len(msgs) > 0 && msgs[0].Role == RoleAssistant {
		t.Fatalf("history head is assistant after trim")
	}
}

func TestContextNoTrimUnderBudget(t *testing.T) {
	ctx := NewContext(0, 0, 0) // 全部回落默认值

	ctx.AddUserMessage("你好")
	ctx.AddAssistantMessage("你好呀")

	if ctx.Len() != 2 {
		t.Fatalf("len = %d, want 2", ctx.Len())
	}
}

func TestContextClear(t *testing.T) {
	ctx := NewContext(100, 1, 1)
	ctx.AddUserMessage("x")
	ctx.Clear()
	if ctx.Len() != 0 {
		t.Fatalf("len after clear = %d, want 0", ctx.Len())
	}
}
