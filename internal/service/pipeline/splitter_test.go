package pipeline

import (
	"reflect"
	"strings"
	"testing"
)

func TestSplitterStreaming(t *testing.T) {
	s := NewSplitter()

	if got := s.Feed("你好"); len(got) != 0 {
		t.Fatalf(`Feed("你好") = %v, want none`, got)
	}
	if got := s.Feed("！我"); !reflect.DeepEqual(got, []string{"你好！"}) {
		t.Fatalf(`Feed("！我") = %v, want ["你好！"]`, got)
	}
	if got := s.Feed("是小马。"); !reflect.DeepEqual(got, []string{"我是小马。"}) {
		t.Fatalf(`Feed("是小马。") = %v, want ["我是小马。"]`, got)
	}
	if got := s.Flush(); got != "" {
		t.Fatalf("Flush() = %q, want empty", got)
	}
}

func TestSplitterMultipleSentencesInOneChunk(t *testing.T) {
	s := NewSplitter()

	got := s.Feed("今天天气不错。要不要出去走走？好啊")
	want := []string{"今天天气不错。", "要不要出去走走？"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Feed = %v, want %v", got, want)
	}
	if got := s.Flush(); got != "好啊" {
		t.Fatalf("Flush() = %q, want 好啊", got)
	}
}

func TestSplitterLongSentenceCommaSplit(t *testing.T) {
	s := NewSplitter()

	head := strings.Repeat("啊", 30) + "，"
	tail := strings.Repeat("呀", 40)
	got := s.Feed(head + tail)

	if len(got) != 1 {
		t.Fatalf("Feed yielded %d sentences, want 1 (comma split)", len(got))
	}
	if got[0] != head {
		t.Fatalf("comma split = %q, want %q", got[0], head)
	}
	if got := s.Flush(); got != tail {
		t.Fatalf("Flush() = %q, want remaining tail", got)
	}
}

func TestSplitterMinLength(t *testing.T) {
	s := NewSplitter()

	// 单个句号不足最小长度，不应单独成句
	if got := s.Feed("。"); len(got) != 0 {
		t.Fatalf("Feed(\"。\") = %v, want none", got)
	}
	if got := s.Feed("好。"); !reflect.DeepEqual(got, []string{"。好。"}) {
		t.Fatalf("Feed = %v, want [。好。]", got)
	}
}

func TestSplitterReconstitution(t *testing.T) {
	inputs := []string{
		"你好！我是小马。今天想聊点什么呢？",
		"第一句.第二句!第三句;还有没结束的尾巴",
		"逗号，很多，的，一句话。",
	}

	for _, input := range inputs {
		s := NewSplitter()
		var parts []string
		for _, r := range input {
			parts = append(parts, s.Feed(string(r))...)
		}
		if rest := s.Flush(); rest != "" {
			parts = append(parts, rest)
		}

		joined := strings.Join(parts, "")
		if joined != strings.TrimSpace(input) {
			t.Errorf("reconstitution of %q = %q", input, joined)
		}
	}
}

func TestSplitterReset(t *testing.T) {
	s := NewSplitter()
	s.Feed("没说完的话")
	s.Reset()
	if got := s.Flush(); got != "" {
		t.Fatalf("Flush after Reset = %q, want empty", got)
	}
}
