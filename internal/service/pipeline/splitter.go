package pipeline

import "strings"

// 分句规则
const (
	// maxSentenceLength 单句最大长度，超过则在逗号处分割
	maxSentenceLength = 50
	// minSentenceLength 单句最小长度，避免太短的句子
	minSentenceLength = 2
)

// 句子结束标点
var sentenceEndings = map[rune]bool{
	'。': true, '！': true, '？': true, '；': true, '…': true,
	'.': true, '!': true, '?': true, ';': true,
}

// 逗号作为次要分割点（句子过长时）
var commaMarks = map[rune]bool{
	'，': true, ',': true,
}

// Splitter 将流式输入的文本按句子切分，支持中英文标点。
type Splitter struct {
	buffer []rune
}

// NewSplitter 创建文本分句器
func NewSplitter() *Splitter {
	return &Splitter{}
}

// Feed 输入文本片段，返回已形成的完整句子
func (s *Splitter) Feed(text string) []string {
	s.buffer = append(s.buffer, []rune(text)...)

	var sentences []string
	for {
		sentence, ok := s.tryExtract()
		if !ok {
			break
		}
		sentences = append(sentences, sentence)
	}
	return sentences
}

// Flush 刷新缓冲区，返回剩余文本（可能为空）
func (s *Splitter) Flush() string {
	remaining := strings.TrimSpace(string(s.buffer))
	s.buffer = nil
	return remaining
}

// Reset 丢弃缓冲区
func (s *Splitter) Reset() {
	s.buffer = nil
}

// tryExtract 尝试从缓冲区提取一个句子
func (s *Splitter) tryExtract() (string, bool) {
	lastCommaPos := -1

	for i, ch := range s.buffer {
		if commaMarks[ch] {
			lastCommaPos = i
		}

		if sentenceEndings[ch] {
			sentence := strings.TrimSpace(string(s.buffer[:i+1]))
			if len([]rune(sentence)) >= minSentenceLength {
				s.buffer = s.buffer[i+1:]
				return sentence, true
			}
		}

		// 句子过长，在最后一个逗号处分割
		if i >= maxSentenceLength && lastCommaPos > 0 {
			sentence := strings.TrimSpace(string(s.buffer[:lastCommaPos+1]))
			if len([]rune(sentence)) >= minSentenceLength {
				s.buffer = s.buffer[lastCommaPos+1:]
				return sentence, true
			}
		}
	}

	return "", false
}
