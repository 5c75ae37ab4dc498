package dialog

// 火山引擎端到端对话服务的固定接入参数
const (
	DefaultBaseURL = "wss://openspeech.bytedance.com/api/v3/realtime/dialogue"
	ResourceID     = "volc.speech.dialog"
	AppKey         = "PlgvMymc7f3tQnJ6"
)

// 默认对话参数
const (
	DefaultModel             = "O"
	DefaultSpeaker           = "zh_female_vv_jupiter_bigtts"
	DefaultBotName           = "小马"
	DefaultAudioFormat       = "pcm"
	DefaultSampleRate        = 24000
	DefaultEndSmoothWindowMs = 1500
	DefaultRecvTimeout       = 30
	DefaultSystemRole        = "你是一个友善、温暖的AI助手，名叫小马。你善于倾听，能够给予用户情感支持和陪伴。"
	DefaultSpeakingStyle     = "你的说话风格简洁明了，语速适中，语调自然，充满关怀。"
	DefaultGreeting          = "你好，我是小马，有什么可以帮助你的吗？"
)

// 输入模式
const (
	InputModAudio     = "audio"
	InputModText      = "text"
	InputModAudioFile = "audio_file"
	InputModKeepAlive = "keep_alive"
)

// Config 端到端实时语音对话服务配置
type Config struct {
	AppID     string
	AccessKey string
	BaseURL   string

	// 模型版本 (O, SC, 1.2.1.0, 2.2.0.0)
	Model string

	// TTS配置
	Speaker           string
	OutputAudioFormat string
	OutputSampleRate  int

	// 对话配置
	BotName       string
	SystemRole    string
	SpeakingStyle string
	Location      map[string]string

	// ASR配置
	EndSmoothWindowMs int
	// 接收超时（秒），比默认10秒长一些，避免长对话中断
	RecvTimeout int

	StrictAudit bool
}

// NewConfig 创建带默认值的配置
func NewConfig(appID, accessKey string) *Config {
	return &Config{
		AppID:             appID,
		AccessKey:         accessKey,
		BaseURL:           DefaultBaseURL,
		Model:             DefaultModel,
		Speaker:           DefaultSpeaker,
		OutputAudioFormat: DefaultAudioFormat,
		OutputSampleRate:  DefaultSampleRate,
		BotName:           DefaultBotName,
		SystemRole:        DefaultSystemRole,
		SpeakingStyle:     DefaultSpeakingStyle,
		Location:          map[string]string{"city": "北京", "country": "中国"},
		EndSmoothWindowMs: DefaultEndSmoothWindowMs,
		RecvTimeout:       DefaultRecvTimeout,
	}
}

// StartSessionPayload StartSession事件的payload
type StartSessionPayload struct {
	ASR    ASRConfig    `json:"asr"`
	TTS    TTSConfig    `json:"tts"`
	Dialog DialogConfig `json:"dialog"`
}

// ASRConfig StartSession中的ASR段
type ASRConfig struct {
	Extra ASRExtra `json:"extra"`
}

// ASRExtra ASR附加参数
type ASRExtra struct {
	EndSmoothWindowMs int `json:"end_smooth_window_ms"`
}

// TTSConfig StartSession中的TTS段
type TTSConfig struct {
	Speaker     string      `json:"speaker"`
	AudioConfig AudioConfig `json:"audio_config"`
}

// AudioConfig TTS输出音频参数
type AudioConfig struct {
	Channel    int    `json:"channel"`
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
}

// DialogConfig StartSession中的对话段
type DialogConfig struct {
	BotName       string            `json:"bot_name"`
	SystemRole    string            `json:"system_role"`
	SpeakingStyle string            `json:"speaking_style"`
	Location      map[string]string `json:"location"`
	Extra         DialogExtra       `json:"extra"`
}

// DialogExtra 对话附加参数
type DialogExtra struct {
	StrictAudit bool   `json:"strict_audit"`
	RecvTimeout int    `json:"recv_timeout"`
	InputMod    string `json:"input_mod"`
	Model       string `json:"model"`
}

// StartSessionPayload 构建StartSession事件的payload
func (c *Config) StartSessionPayload(inputMod string) StartSessionPayload {
	return StartSessionPayload{
		ASR: ASRConfig{
			Extra: ASRExtra{EndSmoothWindowMs: c.EndSmoothWindowMs},
		},
		TTS: TTSConfig{
			Speaker: c.Speaker,
			AudioConfig: AudioConfig{
				Channel:    1,
				Format:     c.OutputAudioFormat,
				SampleRate: c.OutputSampleRate,
			},
		},
		Dialog: DialogConfig{
			BotName:       c.BotName,
			SystemRole:    c.SystemRole,
			SpeakingStyle: c.SpeakingStyle,
			Location:      c.Location,
			Extra: DialogExtra{
				StrictAudit: c.StrictAudit,
				RecvTimeout: c.RecvTimeout,
				InputMod:    inputMod,
				Model:       c.Model,
			},
		},
	}
}
