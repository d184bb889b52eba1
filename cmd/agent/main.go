// Command agent is the macOS capture harness: it opens two malgo capture
// devices (microphone and, when configured, a system-audio loopback
// device), feeds raw PCM16LE into a pkg/session.Session, and prints the
// session's event stream to stdout.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/joho/godotenv"

	"github.com/scribeloop/scribecore/pkg/analysis"
	"github.com/scribeloop/scribecore/pkg/cost"
	"github.com/scribeloop/scribecore/pkg/domain"
	"github.com/scribeloop/scribecore/pkg/paragraph"
	"github.com/scribeloop/scribecore/pkg/pcmutil"
	"github.com/scribeloop/scribecore/pkg/providers/batchsttpost"
	"github.com/scribeloop/scribecore/pkg/providers/batchstructured"
	"github.com/scribeloop/scribecore/pkg/providers/llm"
	"github.com/scribeloop/scribecore/pkg/providers/local"
	"github.com/scribeloop/scribecore/pkg/providers/realtimestream"
	"github.com/scribeloop/scribecore/pkg/session"
	"github.com/scribeloop/scribecore/pkg/transcription"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	cfg := loadConfig()
	deps := session.Deps{
		Store:  nil, // wire a concrete session.Store (e.g. sqlite-backed) to persist across restarts
		Logger: stdLogger{},
	}
	deps.ChunkProvider, deps.StreamProvider = buildTranscriptionProvider(cfg)
	deps.Summary, deps.Task = buildAnalysisFuncs()
	deps.Decide, deps.Polish = buildParagraphFuncs(cfg)
	deps.Pricing = buildPricingTable()
	deps.Sink = logEvent

	sess := session.New(newSessionID(), cfg, deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sess.Initialize(ctx); err != nil {
		log.Fatalf("session: initialize: %v", err)
	}
	if cfg.ContextFile != "" {
		if data, err := os.ReadFile(cfg.ContextFile); err == nil {
			sess.SeedContext(strings.Split(string(data), "\n"))
		} else {
			log.Printf("context file %q: %v", cfg.ContextFile, err)
		}
	}
	if err := sess.StartRecording(ctx, false); err != nil {
		log.Fatalf("session: start recording: %v", err)
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Fatalf("malgo: init context: %v", err)
	}
	defer mctx.Uninit()

	micDevice, err := openCaptureDevice(mctx, "", func(pcm []byte) {
		if err := sess.FeedMicAudio(pcm); err != nil && err != session.ErrNotRecording {
			log.Printf("session: feed mic audio: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("malgo: open microphone device: %v", err)
	}
	defer micDevice.Uninit()
	if err := micDevice.Start(); err != nil {
		log.Fatalf("malgo: start microphone device: %v", err)
	}

	systemDeviceName := os.Getenv("SYSTEM_AUDIO_DEVICE")
	if cfg.LegacyAudio {
		// Loopback capture devices (e.g. BlackHole) are a recent addition to
		// the supported device list; legacy-audio mode targets older setups
		// that only ever expose a microphone.
		systemDeviceName = ""
		log.Println("legacy audio mode: system-audio capture disabled")
	}
	var systemDevice *malgo.Device
	if systemDeviceName != "" {
		systemDevice, err = openCaptureDevice(mctx, systemDeviceName, func(pcm []byte) {
			if err := sess.FeedSystemAudio(pcm); err != nil && err != session.ErrNotRecording {
				log.Printf("session: feed system audio: %v", err)
			}
		})
		if err != nil {
			log.Printf("malgo: open system audio device %q: %v (system-audio capture disabled)", systemDeviceName, err)
		} else {
			defer systemDevice.Uninit()
			if err := systemDevice.Start(); err != nil {
				log.Printf("malgo: start system audio device: %v", err)
			}
		}
	} else {
		log.Println("SYSTEM_AUDIO_DEVICE not set; capturing microphone only (pair with a loopback driver such as BlackHole to also capture system audio)")
	}

	fmt.Printf("Configured: provider=%s source=%s target=%s translation=%v\n",
		cfg.TranscriptionProvider, cfg.SourceLang, cfg.TargetLang, cfg.TranslationEnabled)
	fmt.Println("Listening. Press Ctrl+C to exit.")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	fmt.Println("\nShutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := sess.Shutdown(shutdownCtx); err != nil {
		log.Printf("session: shutdown: %v", err)
	}
}

// openCaptureDevice opens a capture-only malgo device at pcmutil.SampleRate
// mono S16, matching by substring against deviceNameSubstr (the system
// default capture device when empty), invoking onPCM with each raw buffer.
func openCaptureDevice(mctx *malgo.AllocatedContext, deviceNameSubstr string, onPCM func([]byte)) (*malgo.Device, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = pcmutil.SampleRate
	deviceConfig.Alsa.NoMMap = 1

	if deviceNameSubstr != "" {
		infos, err := mctx.Devices(malgo.Capture)
		if err != nil {
			return nil, fmt.Errorf("enumerate capture devices: %w", err)
		}
		found := false
		for _, info := range infos {
			if strings.Contains(strings.ToLower(info.Name()), strings.ToLower(deviceNameSubstr)) {
				deviceConfig.Capture.DeviceID = info.ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("no capture device matching %q", deviceNameSubstr)
		}
	}

	return malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, frameCount uint32) {
			if pInput == nil {
				return
			}
			pcm := make([]byte, len(pInput))
			copy(pcm, pInput)
			onPCM(pcm)
		},
	})
}

func loadConfig() domain.Config {
	cfg := domain.DefaultConfig()

	if v := os.Getenv("TRANSCRIPTION_PROVIDER"); v != "" {
		cfg.TranscriptionProvider = domain.ProviderKind(v)
	}
	if v := os.Getenv("SOURCE_LANG"); v != "" {
		cfg.SourceLang = domain.Language(v)
	}
	if v := os.Getenv("TARGET_LANG"); v != "" {
		cfg.TargetLang = domain.Language(v)
	}
	if v := os.Getenv("TRANSLATION_ENABLED"); v != "" {
		cfg.TranslationEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("PARAGRAPH_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.IntervalMs = n
		}
	}
	if v := os.Getenv("DIRECTION"); v != "" {
		cfg.Direction = domain.Direction(v)
	}
	cfg.TranscriptionModelID = os.Getenv("TRANSCRIPTION_MODEL_ID")
	cfg.AnalysisModelID = os.Getenv("ANALYSIS_MODEL_ID")
	cfg.TaskModelID = os.Getenv("TASK_MODEL_ID")
	cfg.UtilityModelID = os.Getenv("UTILITY_MODEL_ID")
	cfg.Debug = os.Getenv("DEBUG") == "true"
	cfg.ContextFile = os.Getenv("CONTEXT_FILE")
	if v := os.Getenv("USE_CONTEXT"); v != "" {
		cfg.UseContext = v == "true" || v == "1"
	}
	cfg.LegacyAudio = os.Getenv("LEGACY_AUDIO") == "true"
	return cfg
}

// buildTranscriptionProvider wires exactly one of ChunkProvider/StreamProvider
// per cfg.TranscriptionProvider (four variants).
func buildTranscriptionProvider(cfg domain.Config) (transcription.ChunkProvider, transcription.StreamProvider) {
	switch cfg.TranscriptionProvider {
	case domain.ProviderRealtimeStream:
		return nil, realtimestream.New(os.Getenv("REALTIME_STT_API_KEY"), os.Getenv("REALTIME_STT_HOST"))
	case domain.ProviderLocal:
		cmdPath := envOr("LOCAL_WORKER_PATH", "./local-worker")
		return local.New(cmdPath), nil
	case domain.ProviderBatchSTTPost:
		return batchsttpost.New(
			envOr("BATCH_STT_URL", "https://api.groq.com/openai/v1/audio/transcriptions"),
			os.Getenv("GROQ_API_KEY"),
			envOr("BATCH_STT_MODEL", "whisper-large-v3-turbo"),
			os.Getenv("OPENAI_API_KEY"),
			envOr("BATCH_STT_POST_MODEL", "gpt-4o-mini"),
		), nil
	case domain.ProviderBatchStructured:
		fallthrough
	default:
		return batchstructured.New(os.Getenv("ANTHROPIC_API_KEY"), envOr("BATCH_STRUCTURED_MODEL", "claude-3-5-sonnet-20241022")), nil
	}
}

// buildAnalysisFuncs wires the summary/task analysis model from
// ANALYSIS_LLM_PROVIDER; both are nil (analysis passes
// become no-ops) if no provider is configured.
func buildAnalysisFuncs() (analysis.SummaryFunc, analysis.TaskFunc) {
	var completer llm.Completer
	switch os.Getenv("ANALYSIS_LLM_PROVIDER") {
	case "openai":
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			completer = llm.NewOpenAI(key, envOr("ANALYSIS_LLM_MODEL", "gpt-4o-mini"))
		}
	case "google":
		if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
			completer = llm.NewGoogle(key, envOr("ANALYSIS_LLM_MODEL", "gemini-1.5-flash"))
		}
	case "anthropic":
		fallthrough
	default:
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			completer = llm.NewAnthropic(key, envOr("ANALYSIS_LLM_MODEL", "claude-3-5-haiku-20241022"))
		}
	}
	if completer == nil {
		log.Println("no analysis LLM provider configured; summary and task passes are disabled")
		return nil, nil
	}
	return llm.NewSummaryFunc(completer), llm.NewTaskFunc(completer)
}

// buildParagraphFuncs wires the commit-decision/polish model from
// cfg.UtilityModelID; both are nil (paragraph buffering falls back to its
// own heuristic, and polish is skipped) if no utility model is configured.
func buildParagraphFuncs(cfg domain.Config) (paragraph.DecisionFunc, paragraph.PolishFunc) {
	if cfg.UtilityModelID == "" {
		return nil, nil
	}
	var completer llm.Completer
	switch os.Getenv("UTILITY_LLM_PROVIDER") {
	case "openai":
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			completer = llm.NewOpenAI(key, cfg.UtilityModelID)
		}
	case "google":
		if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
			completer = llm.NewGoogle(key, cfg.UtilityModelID)
		}
	case "anthropic":
		fallthrough
	default:
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			completer = llm.NewAnthropic(key, cfg.UtilityModelID)
		}
	}
	if completer == nil {
		log.Println("utility model id configured but no matching API key found; commit-decision and polish passes are disabled")
		return nil, nil
	}
	return llm.NewDecisionFunc(completer), llm.NewPolishFunc(completer)
}

// buildPricingTable reads provider:audioIn:textIn:out quadruples from
// PRICING_TABLE ("provider:audioIn:textIn:out;provider2:...").
func buildPricingTable() cost.PricingTable {
	table := cost.PricingTable{}
	raw := os.Getenv("PRICING_TABLE")
	if raw == "" {
		return table
	}
	for _, entry := range strings.Split(raw, ";") {
		parts := strings.Split(entry, ":")
		if len(parts) != 4 {
			continue
		}
		audioIn, _ := strconv.ParseFloat(parts[1], 64)
		textIn, _ := strconv.ParseFloat(parts[2], 64)
		out, _ := strconv.ParseFloat(parts[3], 64)
		table[parts[0]] = cost.Rate{AudioInputPerToken: audioIn, TextInputPerToken: textIn, OutputPerToken: out}
	}
	return table
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newSessionID() string {
	return fmt.Sprintf("session-%d", time.Now().UnixNano())
}

func logEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventStateChange:
		fmt.Printf("[state] %s\n", ev.State)
	case session.EventPartial:
		fmt.Printf("\r[%s partial] %s", ev.Source, ev.Text)
	case session.EventBlockAdded:
		fmt.Printf("\n[%s] %s\n", ev.Block.AudioSource, ev.Block.SourceText)
	case session.EventBlockUpdated:
		if ev.Block.Translation != "" {
			fmt.Printf("  -> %s\n", ev.Block.Translation)
		}
	case session.EventSummaryUpdated:
		fmt.Printf("[summary] %d key points\n", len(ev.Summary.KeyPoints))
	case session.EventInsightAdded:
		fmt.Printf("[insight:%s] %s\n", ev.Insight.Kind, ev.Insight.Text)
	case session.EventTaskSuggested:
		fmt.Printf("[task] %s\n", ev.Task.Text)
	case session.EventCostUpdated:
		fmt.Printf("[cost] $%.4f\n", ev.Cost.TotalCost)
	case session.EventStatus:
		fmt.Printf("[status] %s\n", ev.Message)
	case session.EventError:
		fmt.Printf("[error] %s: %v\n", ev.Message, ev.Err)
	}
}

// stdLogger adapts the standard log package to domain.Logger, matching the
// plain-log-line approach of the original voice-agent entrypoint (no
// structured logging library there either).
type stdLogger struct{}

func (stdLogger) Debug(msg string, args ...interface{}) { log.Println(append([]interface{}{"DEBUG", msg}, args...)...) }
func (stdLogger) Info(msg string, args ...interface{})  { log.Println(append([]interface{}{"INFO", msg}, args...)...) }
func (stdLogger) Warn(msg string, args ...interface{})  { log.Println(append([]interface{}{"WARN", msg}, args...)...) }
func (stdLogger) Error(msg string, args ...interface{}) { log.Println(append([]interface{}{"ERROR", msg}, args...)...) }
