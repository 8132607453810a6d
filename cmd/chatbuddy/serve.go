package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/avvvet/chatbuddy/internal/config"
	"github.com/avvvet/chatbuddy/internal/dialogue"
	"github.com/avvvet/chatbuddy/internal/handlers"
	"github.com/avvvet/chatbuddy/internal/prompts"
	"github.com/avvvet/chatbuddy/internal/scheduler"
	"github.com/avvvet/chatbuddy/internal/search"
	"github.com/avvvet/chatbuddy/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to NATS and answer chat events",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	log.Println("🚀 Starting chatbuddy...")

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("❌ failed to load config: %w", err)
	}
	logger, closeLog := config.SetupLogger(cfg.Logging.File, config.ParseLevel(cfg.Logging.Level))
	defer closeLog()
	slog.SetDefault(logger)

	for _, w := range config.Warnings(cfg) {
		log.Printf("⚠️ %s", w)
	}
	log.Printf("📋 Service: %s (%s)", cfg.ServiceName, cfg.Bot.Name)
	log.Printf("📡 NATS URL: %s", cfg.NATS.URL)
	log.Printf("🤖 Model: %s/%s", cfg.LLM.Provider, cfg.LLM.Model)

	// Memory
	log.Printf("🔌 Opening memory (%s backend)...", cfg.Memory.Backend)
	mem, err := openMemory(cfg, logger)
	if err != nil {
		return fmt.Errorf("❌ failed to open memory: %w", err)
	}
	defer func() {
		if err := mem.Close(); err != nil {
			log.Printf("⚠️ Error closing memory: %v", err)
		}
		log.Println("👋 chatbuddy stopped")
	}()
	log.Println("✅ Memory manager initialized")

	// Model
	log.Println("🧠 Initializing model provider...")
	provider, err := buildProvider(cfg, logger)
	if err != nil {
		return fmt.Errorf("❌ %w", err)
	}
	searchClient := search.NewClient(search.Options{
		Enabled:      cfg.Search.Enabled,
		Endpoint:     cfg.Search.Endpoint,
		APIKey:       cfg.Search.APIKey,
		Model:        cfg.Search.Model,
		Timeout:      cfg.Search.Timeout,
		UseJudge:     cfg.Search.UseJudge,
		JudgeTimeout: cfg.Search.JudgeTimeout,
		Keywords:     cfg.Search.Keywords,
	}, logger)
	log.Printf("✅ Model provider initialized (search enabled: %v)", searchClient.Enabled())

	// Dialogue
	lexicon := dialogue.DefaultLexicon()
	if cfg.Intent.LexiconFile != "" {
		lexicon, err = dialogue.LoadLexicon(cfg.Intent.LexiconFile)
		if err != nil {
			return fmt.Errorf("❌ failed to load lexicon: %w", err)
		}
	}
	analyzer := dialogue.NewAnalyzer(dialogue.NewSegmenter(lexicon), dialogue.AnalyzerOptions{
		CounterQuestion: cfg.Intent.CounterQuestion,
		Sarcasm:         cfg.Intent.Sarcasm,
		TopicTracking:   cfg.Intent.TopicTracking,
		StackSize:       cfg.Intent.StackSize,
		QuestionWindow:  cfg.Intent.QuestionWindow,
		SarcasmOptions: dialogue.SarcasmOptions{
			Threshold:         cfg.Intent.SarcasmThreshold,
			PunctuationWeight: cfg.Intent.PunctuationWeight,
			ToneWeight:        cfg.Intent.ToneWeight,
			PatternWeight:     cfg.Intent.PatternWeight,
		},
		TopicOptions: dialogue.TopicOptions{
			SwitchThreshold:    cfg.Intent.SwitchThreshold,
			RelevanceThreshold: cfg.Intent.RelevanceThreshold,
			HistorySize:        cfg.Intent.HistorySize,
		},
		Precedence: cfg.Intent.Precedence,
	}, logger)
	registry := dialogue.NewRegistry(dialogue.StateMachineOptions{
		OpeningMessages:   cfg.StateMachine.OpeningMessages,
		ClosingTimeout:    cfg.StateMachine.ClosingTimeout,
		SwitchingDwell:    cfg.StateMachine.SwitchingDwell,
		SwitchingMessages: cfg.StateMachine.SwitchingMessages,
	}, logger)
	enhancer := dialogue.NewEnhancer(registry, cfg.StateMachine.StatePrompts, logger)
	activity := dialogue.NewActivityTracker()
	engine := dialogue.NewProactiveEngine(
		dialogue.NewColdDetector(dialogue.ColdOptions{
			Thresholds:    cfg.Proactive.ColdThresholds,
			Probabilities: cfg.Proactive.ColdProbabilities,
		}),
		dialogue.NewInterjectionJudge(dialogue.JudgeOptions{
			WhenMentioned: cfg.Proactive.WhenMentioned,
			WhenRelevant:  cfg.Proactive.WhenRelevant,
			WhenCold:      cfg.Proactive.WhenCold,
			Cooldown:      cfg.Proactive.Cooldown,
			MaxPerHour:    cfg.Proactive.MaxPerHour,
		}),
		dialogue.NewTopicGenerator(dialogue.GeneratorOptions{
			Topics:     cfg.Proactive.Topics,
			RecentSize: cfg.Proactive.RecentTopics,
		}, nil),
		activity,
		dialogue.ProactiveOptions{},
		nil,
		logger,
	)

	chatHandler := handlers.NewChatHandler(handlers.ChatDeps{
		Provider:  provider,
		Memory:    mem.manager,
		Search:    searchClient,
		Analyzer:  analyzer,
		Enhancer:  enhancer,
		Proactive: engine,
		Activity:  activity,
	}, handlers.ChatOptions{
		Persona: prompts.Persona{
			Name:        cfg.Bot.Name,
			Nickname:    cfg.Bot.Nickname,
			AdminID:     cfg.Bot.AdminID,
			Personality: cfg.Bot.Personality,
		},
		Keywords:    cfg.Bot.Keywords,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		SmartReply:  cfg.SmartReply.Enabled,
		TriggerRate: cfg.SmartReply.TriggerRate,
		MinInterval: cfg.SmartReply.MinInterval,
	}, logger)
	log.Println("✅ Chat handler initialized")

	// Transport
	log.Println("📡 Connecting to NATS...")
	natsTransport, err := transport.NewNATSTransport(cfg.NATS, cfg.ServiceName, chatHandler, 0, logger)
	if err != nil {
		return fmt.Errorf("❌ failed to initialize NATS transport: %w", err)
	}
	defer func() {
		if err := natsTransport.Close(); err != nil {
			log.Printf("⚠️ Error closing NATS transport: %v", err)
		}
	}()

	if err := natsTransport.Start(); err != nil {
		return fmt.Errorf("❌ failed to start NATS transport: %w", err)
	}

	var proactive *scheduler.ProactiveScheduler
	if cfg.Proactive.Enabled {
		proactive, err = scheduler.NewProactiveScheduler(scheduler.Options{
			Schedule:         cfg.Proactive.Schedule,
			ConversationKeys: cfg.Proactive.ConversationKeys,
			BotName:          cfg.Bot.Name,
		}, engine, natsTransport, mem.manager, logger)
		if err != nil {
			return fmt.Errorf("❌ %w", err)
		}
		proactive.Start()
		log.Printf("⏰ Proactive checks every %s for %d conversations", cfg.Proactive.Schedule, len(cfg.Proactive.ConversationKeys))
	}

	log.Println("✅ chatbuddy is running!")
	log.Printf("👂 Listening on subject: %s", cfg.NATS.InboundSubject)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Printf("🛑 Received signal: %v", sig)
	log.Println("🔄 Shutting down gracefully...")

	// Deferred closes run transport first, then memory.
	if proactive != nil {
		proactive.Stop()
	}
	return nil
}
