package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/reallychenchi/Mapijing/internal/model/chat"
	"github.com/reallychenchi/Mapijing/internal/model/message"
)

// fakeLLM 按预设分片回放流式输出
type fakeLLM struct {
	chunks []string
	full   string
}

func (f *fakeLLM) StreamResponse(ctx context.Context, history []chat.Message, userMessage string) (*schema.StreamReader[*schema.Message], error) {
	msgs := make([]*schema.Message, 0, len(f.chunks))
	for _, c := range f.chunks {
		msgs = append(msgs, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func (f *fakeLLM) GenerateResponse(ctx context.Context, history []chat.Message, userMessage string) (*schema.Message, error) {
	return schema.AssistantMessage(f.full, nil), nil
}

// fakeTTS 记录合成请求，可注入失败
type fakeTTS struct {
	texts []string
	fail  bool
}

func (f *fakeTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	f.texts = append(f.texts, text)
	if f.fail {
		return nil, errors.New("tts unavailable")
	}
	return []byte("mp3-" + text), nil
}

func TestProcessorStreamsSentences(t *testing.T) {
	llm := &fakeLLM{chunks: []string{
		"<content>你好。",
		"今天天气",
		"不错。</content>",
		"<emotion>轻松愉悦</emotion>",
	}}
	tts := &fakeTTS{}
	p := NewProcessor(llm, tts)

	var chunks []TTSChunk
	var gotEmotion message.EmotionType

	full, err := p.Process(context.Background(), nil, "你好",
		func(c TTSChunk) error {
			chunks = append(chunks, c)
			return nil
		},
		func(e message.EmotionType) { gotEmotion = e },
	)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2: %v", len(chunks), chunks)
	}
	if chunks[0].Text != "你好。" || chunks[1].Text != "今天天气不错。" {
		t.Errorf("texts = %q, %q", chunks[0].Text, chunks[1].Text)
	}
	if chunks[0].Seq != 1 || chunks[1].Seq != 2 {
		t.Errorf("seqs = %d, %d, want 1, 2", chunks[0].Seq, chunks[1].Seq)
	}
	if len(chunks[0].Audio) == 0 {
		t.Error("audio missing")
	}
	if gotEmotion != message.EmotionCheerful {
		t.Errorf("emotion = %s, want %s", gotEmotion, message.EmotionCheerful)
	}
	if full != "<content>你好。今天天气不错。</content><emotion>轻松愉悦</emotion>" {
		t.Errorf("full response = %q", full)
	}
}

func TestProcessorTTSFailureDegradesToText(t *testing.T) {
	llm := &fakeLLM{chunks: []string{"好的。"}}
	tts := &fakeTTS{fail: true}
	p := NewProcessor(llm, tts)

	var chunks []TTSChunk
	_, err := p.Process(context.Background(), nil, "测试",
		func(c TTSChunk) error {
			chunks = append(chunks, c)
			return nil
		}, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if chunks[0].Text != "好的。" {
		t.Errorf("text = %q", chunks[0].Text)
	}
	if len(chunks[0].Audio) != 0 {
		t.Error("failed synthesis should carry no audio")
	}
}

func TestProcessorInterruptStopsStream(t *testing.T) {
	llm := &fakeLLM{chunks: []string{"一句话。第二句。第三句。"}}
	tts := &fakeTTS{}
	p := NewProcessor(llm, tts)

	var chunks []TTSChunk
	_, err := p.Process(context.Background(), nil, "测试",
		func(c TTSChunk) error {
			chunks = append(chunks, c)
			p.Interrupt()
			return nil
		}, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(chunks) != 1 {
		t.Errorf("chunks = %d, want 1 (interrupt should drop the rest)", len(chunks))
	}
}

func TestConversationRespondTracksEmotionAndHistory(t *testing.T) {
	llm := &fakeLLM{full: "<content>我在听</content><emotion>共情倾听</emotion>"}
	history := chat.NewContext(1000, 1.5, 2)
	c := NewConversation(llm, &fakeTTS{}, history)

	reply, err := c.Respond(context.Background(), "我有点难过")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	if reply != "我在听" {
		t.Errorf("reply = %q, want 我在听", reply)
	}
	if c.CurrentEmotion() != message.EmotionEmpathy {
		t.Errorf("emotion = %s, want %s", c.CurrentEmotion(), message.EmotionEmpathy)
	}
	if history.Len() != 2 {
		t.Errorf("history length = %d, want 2", history.Len())
	}
}

func TestConversationRespondStream(t *testing.T) {
	llm := &fakeLLM{chunks: []string{"<content>没问题。</content>", "<emotion>轻松愉悦</emotion>"}}
	history := chat.NewContext(1000, 1.5, 2)
	c := NewConversation(llm, &fakeTTS{}, history)

	var emotions []message.EmotionType
	full, err := c.RespondStream(context.Background(), "帮我个忙",
		func(TTSChunk) error { return nil },
		func(e message.EmotionType) { emotions = append(emotions, e) },
	)
	if err != nil {
		t.Fatalf("RespondStream: %v", err)
	}

	if full == "" {
		t.Error("full text empty")
	}
	if history.Len() != 2 {
		t.Errorf("history length = %d, want 2", history.Len())
	}
	if len(emotions) != 1 || emotions[0] != message.EmotionCheerful {
		t.Errorf("emotions = %v, want [轻松愉悦]", emotions)
	}

	// 情绪未变化时不再回调
	if _, err := c.RespondStream(context.Background(), "再来一次",
		func(TTSChunk) error { return nil },
		func(e message.EmotionType) { emotions = append(emotions, e) },
	); err != nil {
		t.Fatalf("RespondStream: %v", err)
	}
	if len(emotions) != 1 {
		t.Errorf("emotion callback fired on unchanged emotion: %v", emotions)
	}
}

func TestConversationReset(t *testing.T) {
	llm := &fakeLLM{full: "<content>好</content><emotion>安慰支持</emotion>"}
	history := chat.NewContext(1000, 1.5, 2)
	c := NewConversation(llm, &fakeTTS{}, history)

	if _, err := c.Respond(context.Background(), "你好"); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	c.Reset()

	if history.Len() != 0 {
		t.Errorf("history not cleared, length = %d", history.Len())
	}
	if c.CurrentEmotion() != message.EmotionDefault {
		t.Errorf("emotion = %s, want default", c.CurrentEmotion())
	}
}
