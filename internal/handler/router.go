package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/reallychenchi/Mapijing/internal/config"
	dialogHandler "github.com/reallychenchi/Mapijing/internal/handler/dialog"
	voiceHandler "github.com/reallychenchi/Mapijing/internal/handler/voice"
	middlewarePkg "github.com/reallychenchi/Mapijing/internal/middleware"
	"github.com/reallychenchi/Mapijing/internal/model/chat"
	"github.com/reallychenchi/Mapijing/internal/model/message"
	aiService "github.com/reallychenchi/Mapijing/internal/service/ai"
	dialogService "github.com/reallychenchi/Mapijing/internal/service/dialog"
	"github.com/reallychenchi/Mapijing/internal/service/pipeline"
	"github.com/reallychenchi/Mapijing/internal/service/speech"
	"github.com/reallychenchi/Mapijing/pkg/utils"
)

// Version 网关版本号，/health返回
const Version = "1.0.0"

// NewRouter wires HTTP routes to core services.
func NewRouter(cfg *config.Config, aiSvc *aiService.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"version": Version,
		})
	})

	r.Get("/api/config", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"emotion_types": message.AllEmotions(),
		})
	})

	// 端到端语音对话（火山引擎实时对话服务直连）
	if cfg.E2E.Enabled() {
		dialogCfg := cfg.E2E.DialogConfig()
		h := dialogHandler.NewHandler(func() dialogHandler.Service {
			return dialogService.NewService(dialogCfg)
		})
		h.RegisterWebSocketRoutes(r)
	}

	// 分阶段语音对话（独立的ASR、LLM、TTS流水线）
	if aiSvc != nil && cfg.ASR.Enabled() && cfg.TTS.Enabled() {
		asrCfg := speech.ASRConfig{
			AppID:     cfg.ASR.AppID,
			AccessKey: cfg.ASR.AccessKey,
			URL:       cfg.ASR.URL,
		}
		ttsCfg := speech.TTSConfig{
			AppID:     cfg.TTS.AppID,
			AccessKey: cfg.TTS.AccessKey,
			Voice:     cfg.TTS.Voice,
			URL:       cfg.TTS.URL,
		}
		contextCfg := cfg.Context

		h := voiceHandler.NewHandler(
			func() *speech.StreamingASR {
				return speech.NewStreamingASR(asrCfg)
			},
			func() *pipeline.Conversation {
				history := chat.NewContext(contextCfg.MaxTokens, contextCfg.CharsPerToken, contextCfg.MinHistoryCount)
				return pipeline.NewConversation(aiSvc, speech.NewTTSClient(ttsCfg), history)
			},
		)
		h.RegisterWebSocketRoutes(r)
	}

	return r
}
