package emotion

import (
	"testing"

	"github.com/reallychenchi/Mapijing/internal/model/message"
)

func TestParseMarkup(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantContent string
		wantEmotion message.EmotionType
	}{
		{
			name:        "完整标记",
			input:       "<content>我理解你</content><emotion>共情倾听</emotion>",
			wantContent: "我理解你",
			wantEmotion: "共情倾听",
		},
		{
			name:        "未知情绪回落默认",
			input:       "<content>哈哈</content><emotion>开心</emotion>",
			wantContent: "哈哈",
			wantEmotion: message.EmotionDefault,
		},
		{
			name:        "无content标签",
			input:       "今天天气不错<emotion>轻松愉悦</emotion>",
			wantContent: "今天天气不错",
			wantEmotion: "轻松愉悦",
		},
		{
			name:        "纯文本",
			input:       "你好呀",
			wantContent: "你好呀",
			wantEmotion: message.EmotionDefault,
		},
		{
			name:        "跨行内容",
			input:       "<content>第一行\n第二行</content><emotion>安慰支持</emotion>",
			wantContent: "第一行\n第二行",
			wantEmotion: "安慰支持",
		},
		{
			name:        "缺失情绪标签",
			input:       "<content>别难过</content>",
			wantContent: "别难过",
			wantEmotion: message.EmotionDefault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.input)
			if got.Content != tt.wantContent {
				t.Errorf("content = %q, want %q", got.Content, tt.wantContent)
			}
			if got.Emotion != tt.wantEmotion {
				t.Errorf("emotion = %q, want %q", got.Emotion, tt.wantEmotion)
			}
		})
	}
}

func TestParseNeverReturnsInvalidEmotion(t *testing.T) {
	inputs := []string{
		"<emotion>愤怒</emotion>",
		"<content>a</content><emotion></emotion>",
		"<emotion>  </emotion>随便说点什么",
		"",
	}
	for _, input := range inputs {
		got := Parse(input)
		if !message.IsValidEmotion(got.Emotion) {
			t.Errorf("Parse(%q) returned invalid emotion %q", input, got.Emotion)
		}
	}
}

func TestCleanForTTS(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"<content>你好</content>", "你好"},
		{"你好<emotion>默认陪伴</emotion>", "你好"},
		{"没有标签", "没有标签"},
		{"  <br>前后空白<x>  ", "前后空白"},
	}
	for _, tt := range tests {
		if got := CleanForTTS(tt.input); got != tt.want {
			t.Errorf("CleanForTTS(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
