package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/reallychenchi/Mapijing/internal/config"
	dialogservice "github.com/reallychenchi/Mapijing/internal/service/dialog"
	"github.com/reallychenchi/Mapijing/internal/service/speech"
)

// 手动联调工具：不经过网关，直接调用上游语音服务。
func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	mode := flag.String("mode", "", "测试模式: dialog、asr 或 tts")
	text := flag.String("text", "你好，今天天气怎么样？", "dialog/tts 模式的输入文本")
	audioPath := flag.String("audio", "", "asr 模式的PCM音频文件路径 (16kHz 16bit 单声道)")
	outputPath := flag.String("out", "output.mp3", "tts 模式的输出文件路径")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")

	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "dialog":
		runDialog(ctx, cfg, *text)
	case "asr":
		runASR(ctx, cfg, *audioPath)
	case "tts":
		runTTS(ctx, cfg, *text, *outputPath)
	default:
		flag.Usage()
		log.Fatal("请通过 -mode=dialog、-mode=asr 或 -mode=tts 指定测试模式")
	}
}

// runDialog 建立端到端会话，发送一条文字并打印全部归一化事件
func runDialog(ctx context.Context, cfg *config.Config, text string) {
	if !cfg.E2E.Enabled() {
		log.Fatal("端到端服务未启用，请先配置 VOLC_E2E_APP_ID 和 VOLC_E2E_ACCESS_KEY")
	}

	svc := dialogservice.NewService(cfg.E2E.DialogConfig())
	defer svc.Close()

	if err := svc.Connect(ctx); err != nil {
		log.Fatalf("连接失败: %v", err)
	}
	if err := svc.StartSession(ctx, dialogservice.InputModText); err != nil {
		log.Fatalf("启动会话失败: %v", err)
	}
	log.Printf("会话已启动: session_id=%s", svc.SessionID())

	if err := svc.SendText(text); err != nil {
		log.Fatalf("发送文字失败: %v", err)
	}

	audioBytes := 0
	for {
		event, err := svc.Receive(ctx)
		if err != nil {
			log.Printf("接收结束: %v", err)
			break
		}

		switch event.Type {
		case dialogservice.EventTTSChunk:
			if audio, ok := event.Data["audio"].(string); ok {
				audioBytes += len(audio)
			}
		case dialogservice.EventTTSEnded:
			log.Printf("本轮结束，累计音频 base64 %d 字节", audioBytes)
			return
		default:
			log.Printf("事件: %s %v", event.Type, event.Data)
		}
	}
}

// runASR 分包发送PCM音频并打印识别结果
func runASR(ctx context.Context, cfg *config.Config, audioPath string) {
	if !cfg.ASR.Enabled() {
		log.Fatal("ASR 服务未启用，请先配置 VOLC_ASR_APP_ID 和 VOLC_ASR_ACCESS_KEY")
	}
	if audioPath == "" {
		log.Fatal("asr 模式需要通过 -audio 指定音频文件路径")
	}

	audio, err := os.ReadFile(audioPath)
	if err != nil {
		log.Fatalf("读取音频文件失败: %v", err)
	}

	asr := speech.NewStreamingASR(speech.ASRConfig{
		AppID:     cfg.ASR.AppID,
		AccessKey: cfg.ASR.AccessKey,
		URL:       cfg.ASR.URL,
	})
	if err := asr.Connect(ctx); err != nil {
		log.Fatalf("连接 ASR 失败: %v", err)
	}
	defer asr.Close()

	// 每包100ms音频 (16kHz 16bit 单声道 = 3200字节)
	const chunkSize = 3200
	var seq int32
	for offset := 0; offset < len(audio); offset += chunkSize {
		end := offset + chunkSize
		isLast := end >= len(audio)
		if isLast {
			end = len(audio)
		}
		seq++
		if err := asr.SendAudio(audio[offset:end], seq, isLast); err != nil {
			log.Fatalf("发送音频失败: %v", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			log.Fatal("等待识别结果超时")
		case err := <-asr.Errors():
			log.Fatalf("ASR 错误: %v", err)
		case result, ok := <-asr.Results():
			if !ok {
				return
			}
			log.Printf("识别结果: %q final=%v", result.Text, result.IsFinal)
			if result.IsFinal {
				return
			}
		}
	}
}

// runTTS 合成一段文本并写入文件
func runTTS(ctx context.Context, cfg *config.Config, text, outputPath string) {
	if !cfg.TTS.Enabled() {
		log.Fatal("TTS 服务未启用，请先配置 VOLC_TTS_APP_ID 和 VOLC_TTS_ACCESS_KEY")
	}

	tts := speech.NewTTSClient(speech.TTSConfig{
		AppID:     cfg.TTS.AppID,
		AccessKey: cfg.TTS.AccessKey,
		Voice:     cfg.TTS.Voice,
		URL:       cfg.TTS.URL,
	})

	audio, err := tts.Synthesize(ctx, text)
	if err != nil {
		log.Fatalf("TTS 调用失败: %v", err)
	}

	if err := os.WriteFile(outputPath, audio, 0o644); err != nil {
		log.Fatalf("写入输出文件失败: %v", err)
	}
	log.Printf("合成完成: %s (%d 字节)", outputPath, len(audio))
}
