package emotion

import (
	"regexp"
	"strings"

	"github.com/reallychenchi/Mapijing/internal/model/message"
)

// AI回复的标记格式：<content>正文</content><emotion>情绪</emotion>
var (
	contentPattern = regexp.MustCompile(`(?s)<content>(.*?)</content>`)
	emotionPattern = regexp.MustCompile(`(?s)<emotion>(.*?)</emotion>`)
	anyTagPattern  = regexp.MustCompile(`<[^>]*>`)
)

// Result 标记解析结果
type Result struct {
	Content string
	Emotion message.EmotionType
}

// Parse 从AI回复中提取正文与情绪标签。
// 无<content>标签时返回去掉<emotion>段的原文；
// 情绪缺失或不在枚举内时回落到默认陪伴。
func Parse(text string) Result {
	result := Result{Emotion: message.EmotionDefault}

	if m := contentPattern.FindStringSubmatch(text); m != nil {
		result.Content = strings.TrimSpace(m[1])
	} else {
		result.Content = strings.TrimSpace(emotionPattern.ReplaceAllString(text, ""))
	}

	if m := emotionPattern.FindStringSubmatch(text); m != nil {
		candidate := message.EmotionType(strings.TrimSpace(m[1]))
		if message.IsValidEmotion(candidate) {
			result.Emotion = candidate
		}
	}

	return result
}

// CleanForTTS 清理送入语音合成前的文本：
// 情绪段连同内容一起去掉，其余标签只去掉标签本身
func CleanForTTS(text string) string {
	text = emotionPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(anyTagPattern.ReplaceAllString(text, ""))
}
