package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/joho/godotenv"

	"github.com/lokutor-ai/lokutor-orchestrator/internal/config"
	"github.com/lokutor-ai/lokutor-orchestrator/internal/obslog"
	"github.com/lokutor-ai/lokutor-orchestrator/internal/telemetry"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/agent"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/playback"
	llmProvider "github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/llm"
	sttProvider "github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/stt"
	ttsProvider "github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/tts"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/recognition"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/session"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/tools"
)

const (
	sampleRate = 44100
	channels   = 1
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Note: No .env file found, using system environment variables")
	}

	logger := obslog.New(os.Getenv("AGENT_LOG_FILE"), os.Getenv("AGENT_LOG_LEVEL"))

	shutdownTelemetry := telemetry.InitProvider()
	defer shutdownTelemetry(context.Background())

	groqKey := os.Getenv("GROQ_API_KEY")
	openaiKey := os.Getenv("OPENAI_API_KEY")
	anthropicKey := os.Getenv("ANTHROPIC_API_KEY")
	googleKey := os.Getenv("GOOGLE_API_KEY")
	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	assemblyKey := os.Getenv("ASSEMBLYAI_API_KEY")
	lokutorKey := os.Getenv("LOKUTOR_API_KEY")

	sttProviderName := envOr("STT_PROVIDER", "groq")
	llmProviderName := envOr("LLM_PROVIDER", "groq")
	lang := envOr("AGENT_LANGUAGE", "es")

	profile, err := config.LoadOr(os.Getenv("AGENT_PROFILE_FILE"))
	if err != nil {
		logger.Error("failed to load session profile", "error", err)
		os.Exit(1)
	}
	preemptiveSynthesis := profile.PreemptiveSynthesis
	if v := os.Getenv("AGENT_PREEMPTIVE_SYNTHESIS"); v != "" {
		preemptiveSynthesis = v == "true"
	}
	eouPolicy := recognition.NewEndOfTurnPolicy(
		recognition.TurnDetectionMode(profile.TurnDetection),
		time.Duration(profile.MinEndpointingDelay),
		time.Duration(profile.MaxEndpointingDelay),
	)

	metrics, err := telemetry.Default()
	if err != nil {
		logger.Error("failed to init telemetry", "error", err)
	}

	if lokutorKey == "" {
		logger.Error("missing required credential", "var", "LOKUTOR_API_KEY")
		os.Exit(1)
	}

	stt := buildSTT(logger, sttProviderName, groqKey, openaiKey, deepgramKey, assemblyKey)
	if s, ok := stt.(interface{ SetSampleRate(int) }); ok {
		s.SetSampleRate(sampleRate)
	}

	llm := buildLLM(logger, llmProviderName, groqKey, openaiKey, anthropicKey, googleKey)

	fmt.Printf("Configured: STT=%s | LLM=%s | TTS=Lokutor\n", sttProviderName, llmProviderName)
	fmt.Printf("VAD Threshold: %.3f | Sample Rate: %dHz | Language: %s\n", 0.02, sampleRate, lang)
	fmt.Println("Voice Agent Started! Listening to microphone...")
	fmt.Println("Press Ctrl+C to exit")

	tts := ttsProvider.NewLokutorTTS(lokutorKey)

	systemPrompt := "You are a helpful and concise voice assistant. Use short sentences suitable for speech."
	if lang == "es" {
		systemPrompt = "Eres un asistente de voz util y conciso. Usa frases cortas adecuadas para el habla."
	}

	mainAgent := &agent.Agent{
		Name:         "assistant",
		Instructions: systemPrompt,
		LLMNode:      llm.Node(),
		TTSNode:      tts.Node(),
		Tools:        tools.NewRegistry(),
	}

	vad := recognition.NewRMSVAD(0.02, 500*time.Millisecond)
	sink := playback.New(playback.DefaultQueueSizeMs)
	defer sink.Close()

	sess := session.New(session.Config{
		Agent:                mainAgent,
		Settings:             agent.Settings{Model: "", Temperature: 0.7, Language: lang},
		MaxToolSteps:         profile.MaxToolSteps,
		MinInterruptionWords: profile.MinInterruptionWords,
		AllowInterruptions:   profile.AllowInterruptions,
		PreemptiveSynthesis:  preemptiveSynthesis,
		EOUPolicy:            eouPolicy,
		ToolExecutor:         tools.NewExecutor(mainAgent.Tools, profile.MaxToolSteps),
		Sink:                 sink,
		VAD:                  vad,
		STT:                  stt,
		Language:             lang,
		Logger:               logger,
		Events: session.Events{
			OnUserStateChanged: func(state string) {
				fmt.Printf("\r\033[K[USER] %s\n", state)
			},
			OnUserInputTranscribed: func(text string, isFinal bool) {
				if isFinal {
					fmt.Printf("\r\033[K[TRANSCRIPT] %s\n", text)
				}
			},
			OnAgentStateChanged: func(state session.AgentState) {
				fmt.Printf("\r\033[K[STATE] %s\n", state)
			},
			OnMetricsCollected: func(m session.Metrics) {
				if metrics == nil {
					return
				}
				metrics.RecordReply(context.Background(), mainAgent.Name,
					m.ReplyLatency.Seconds(), m.TTSFirstByte.Seconds(),
					m.PromptTokens, m.CompletionTokens)
			},
			OnError: func(err error) {
				fmt.Printf("\r\033[K[ERROR] %v\n", err)
			},
		},
	})

	bus := audio.New(sampleRate, channels)
	reader := bus.NewReader()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess.Start(ctx, reader)

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		logger.Error("malgo init failed", "error", err)
		os.Exit(1)
	}
	defer mctx.Uninit()

	micSrc := newMicSource(sampleRate, channels)
	bus.SetSource(micSrc)

	var botPlayingMu sync.Mutex
	var lastPlayedAt time.Time

	var rmsMu sync.Mutex
	lastRMS := 0.0

	playbackFrames := sink.Frames()
	var playbackMu sync.Mutex
	var playbackBytes []byte
	go func() {
		for frame := range playbackFrames {
			playbackMu.Lock()
			playbackBytes = append(playbackBytes, frame.Bytes()...)
			playbackMu.Unlock()
			botPlayingMu.Lock()
			lastPlayedAt = time.Now()
			botPlayingMu.Unlock()
		}
	}()

	onSamples := func(pOutput, pInput []byte, frameCount uint32) {
		if pInput != nil {
			rms := calculateRMS(pInput)
			rmsMu.Lock()
			lastRMS = rms
			rmsMu.Unlock()

			effectiveThreshold := 0.02
			botPlayingMu.Lock()
			isActuallyPlaying := time.Since(lastPlayedAt) < 200*time.Millisecond
			botPlayingMu.Unlock()
			if isActuallyPlaying {
				effectiveThreshold = 0.15
			}

			if rms > effectiveThreshold {
				micSrc.push(pInput)
			} else {
				micSrc.push(make([]byte, len(pInput)))
			}
		}
		if pOutput != nil {
			playbackMu.Lock()
			n := copy(pOutput, playbackBytes)
			playbackBytes = playbackBytes[n:]
			playbackMu.Unlock()
			for i := n; i < len(pOutput); i++ {
				pOutput[i] = 0
			}
		}
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = channels
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = channels
	deviceConfig.SampleRate = sampleRate
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		logger.Error("malgo device init failed", "error", err)
		os.Exit(1)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		logger.Error("malgo device start failed", "error", err)
		os.Exit(1)
	}

	go func() {
		for {
			rmsMu.Lock()
			level := lastRMS
			rmsMu.Unlock()

			meter := ""
			dots := int(level * 500)
			if dots > 40 {
				dots = 40
			}
			for i := 0; i < dots; i++ {
				meter += "|"
			}
			fmt.Printf("\r[MIC ENERGY: %-40s] RMS: %.5f", meter, level)
			time.Sleep(100 * time.Millisecond)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Printf("\nShutting down...\n")
	sess.Stop()
	bus.Close()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func calculateRMS(pcm []byte) float64 {
	var sum float64
	n := 0
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | (int16(pcm[i+1]) << 8)
		f := float64(sample) / 32768.0
		sum += f * f
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}

// micSource adapts the malgo capture callback's push-style delivery into the
// pull-style audio.Source the bus expects.
type micSource struct {
	sampleRate int
	channels   int
	frames     chan audio.Frame
	errMu      sync.Mutex
	err        error
}

func newMicSource(sampleRate, channels int) *micSource {
	return &micSource{sampleRate: sampleRate, channels: channels, frames: make(chan audio.Frame, 64)}
}

func (m *micSource) push(pcm []byte) {
	frame := audio.NewFrameFromPCMBytes(pcm, m.sampleRate, m.channels)
	select {
	case m.frames <- frame:
	default:
	}
}

func (m *micSource) Frames() <-chan audio.Frame { return m.frames }

func (m *micSource) Err() error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.err
}

func buildSTT(logger interface{ Error(string, ...interface{}) }, name, groqKey, openaiKey, deepgramKey, assemblyKey string) recognition.STTProvider {
	switch name {
	case "openai":
		if openaiKey == "" {
			logger.Error("missing required credential", "var", "OPENAI_API_KEY")
			os.Exit(1)
		}
		return sttProvider.NewOpenAISTT(openaiKey, "whisper-1")
	case "deepgram":
		if deepgramKey == "" {
			logger.Error("missing required credential", "var", "DEEPGRAM_API_KEY")
			os.Exit(1)
		}
		return sttProvider.NewDeepgramSTT(deepgramKey)
	case "assemblyai":
		if assemblyKey == "" {
			logger.Error("missing required credential", "var", "ASSEMBLYAI_API_KEY")
			os.Exit(1)
		}
		return sttProvider.NewAssemblyAISTT(assemblyKey)
	case "groq":
		fallthrough
	default:
		if groqKey == "" {
			logger.Error("missing required credential", "var", "GROQ_API_KEY")
			os.Exit(1)
		}
		groqModel := envOr("GROQ_STT_MODEL", "whisper-large-v3-turbo")
		return sttProvider.NewGroqSTT(groqKey, groqModel)
	}
}

type llmNodeProvider interface {
	Node() agent.LLMNode
}

func buildLLM(logger interface{ Error(string, ...interface{}) }, name, groqKey, openaiKey, anthropicKey, googleKey string) llmNodeProvider {
	switch name {
	case "openai":
		if openaiKey == "" {
			logger.Error("missing required credential", "var", "OPENAI_API_KEY")
			os.Exit(1)
		}
		return llmProvider.NewOpenAILLM(openaiKey, "gpt-4o")
	case "anthropic":
		if anthropicKey == "" {
			logger.Error("missing required credential", "var", "ANTHROPIC_API_KEY")
			os.Exit(1)
		}
		return llmProvider.NewAnthropicLLM(anthropicKey, "claude-3-5-sonnet-20241022")
	case "google":
		if googleKey == "" {
			logger.Error("missing required credential", "var", "GOOGLE_API_KEY")
			os.Exit(1)
		}
		return llmProvider.NewGoogleLLM(googleKey, "gemini-1.5-flash")
	case "groq":
		fallthrough
	default:
		if groqKey == "" {
			logger.Error("missing required credential", "var", "GROQ_API_KEY")
			os.Exit(1)
		}
		return llmProvider.NewGroqLLM(groqKey, "llama-3.3-70b-versatile")
	}
}
