package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync/atomic"

	"github.com/cloudwego/eino/schema"

	"github.com/reallychenchi/Mapijing/internal/analysis/emotion"
	"github.com/reallychenchi/Mapijing/internal/model/chat"
	"github.com/reallychenchi/Mapijing/internal/model/message"
)

// TTSChunk 一个合成完毕的语音片段
type TTSChunk struct {
	Text    string
	Audio   []byte
	Seq     int
	IsFinal bool
}

// Synthesizer 把一句文本合成为音频
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// ChatStreamer 流式生成对话回复
type ChatStreamer interface {
	StreamResponse(ctx context.Context, history []chat.Message, userMessage string) (*schema.StreamReader[*schema.Message], error)
}

// Processor 流式处理器：LLM流式输出按句切分后逐句送入TTS。
// 每个Process调用独立持有分句器状态，调用之间互不影响。
type Processor struct {
	llm         ChatStreamer
	tts         Synthesizer
	interrupted atomic.Bool
}

// NewProcessor 创建流式处理器
func NewProcessor(llm ChatStreamer, tts Synthesizer) *Processor {
	return &Processor{
		llm: llm,
		tts: tts,
	}
}

// Interrupt 中断当前处理，在下一个流边界生效
func (p *Processor) Interrupt() {
	p.interrupted.Store(true)
	log.Printf("[pipeline] stream processor interrupted")
}

// Reset 清除中断标记
func (p *Processor) Reset() {
	p.interrupted.Store(false)
}

// Process 流式处理一轮对话。LLM输出逐句合成语音，通过emit交付；
// 流结束后从完整回复中解析情绪并通过onEmotion上报。
// history不包含本轮用户输入，userMessage单独传入。
func (p *Processor) Process(
	ctx context.Context,
	history []chat.Message,
	userMessage string,
	emit func(TTSChunk) error,
	onEmotion func(message.EmotionType),
) (string, error) {
	p.interrupted.Store(false)

	stream, err := p.llm.StreamResponse(ctx, history, userMessage)
	if err != nil {
		return "", fmt.Errorf("failed to start LLM stream: %w", err)
	}
	defer stream.Close()

	splitter := NewSplitter()
	var fullResponse string
	seq := 0

	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fullResponse, fmt.Errorf("LLM stream error: %w", err)
		}
		if p.interrupted.Load() {
			log.Printf("[pipeline] stream processing interrupted")
			break
		}

		fullResponse += msg.Content

		for _, sentence := range splitter.Feed(msg.Content) {
			if p.interrupted.Load() {
				break
			}
			seq++
			if err := p.emitSentence(ctx, sentence, seq, emit); err != nil {
				return fullResponse, err
			}
		}
	}

	if !p.interrupted.Load() {
		if remaining := splitter.Flush(); remaining != "" {
			seq++
			if err := p.emitSentence(ctx, remaining, seq, emit); err != nil {
				return fullResponse, err
			}
		}
	}

	if onEmotion != nil && fullResponse != "" {
		parsed := emotion.Parse(fullResponse)
		onEmotion(parsed.Emotion)
	}

	return fullResponse, nil
}

// emitSentence 清理标签后合成一句语音并交付。
// TTS失败只降级为纯文字片段，不中断整轮处理。
func (p *Processor) emitSentence(ctx context.Context, sentence string, seq int, emit func(TTSChunk) error) error {
	clean := emotion.CleanForTTS(sentence)
	if clean == "" {
		return nil
	}

	audio, err := p.tts.Synthesize(ctx, clean)
	if err != nil {
		log.Printf("[pipeline] TTS failed for sentence %d: %v", seq, err)
		audio = nil
	}

	return emit(TTSChunk{
		Text:    clean,
		Audio:   audio,
		Seq:     seq,
		IsFinal: false,
	})
}
