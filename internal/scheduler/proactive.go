// Package scheduler runs the periodic proactive-engagement check.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/avvvet/chatbuddy/internal/dialogue"
	"github.com/avvvet/chatbuddy/internal/models"
)

// Engine is the part of dialogue.ProactiveEngine the scheduler drives.
type Engine interface {
	CheckAndGenerate(key, mood string, now time.Time) (string, bool)
	ColdCheck(key string, now time.Time) *dialogue.ColdResult
}

// Publisher delivers proactive messages to the chat platform.
type Publisher interface {
	PublishProactive(ctx context.Context, message *models.ProactiveMessage) error
}

// Recorder stores what the assistant said. Optional.
type Recorder interface {
	AddMessage(ctx context.Context, key string, role models.Role, content, senderID, senderName string) error
}

type Options struct {
	Schedule         string
	ConversationKeys []string
	Mood             string
	BotName          string
}

// ProactiveScheduler checks the configured conversations on a cron schedule.
type ProactiveScheduler struct {
	opts      Options
	engine    Engine
	publisher Publisher
	recorder  Recorder
	cron      *rcron.Cron
	now       func() time.Time
	logger    *slog.Logger
}

func NewProactiveScheduler(opts Options, engine Engine, publisher Publisher, recorder Recorder, logger *slog.Logger) (*ProactiveScheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Mood == "" {
		opts.Mood = "calm"
	}
	s := &ProactiveScheduler{
		opts:      opts,
		engine:    engine,
		publisher: publisher,
		recorder:  recorder,
		now:       time.Now,
		logger:    logger,
	}

	cronLogger := cronLogger{logger}
	s.cron = rcron.New(
		rcron.WithLogger(cronLogger),
		rcron.WithChain(rcron.Recover(cronLogger), rcron.SkipIfStillRunning(cronLogger)),
	)
	if _, err := s.cron.AddFunc(opts.Schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid proactive schedule %q: %w", opts.Schedule, err)
	}
	return s, nil
}

func (s *ProactiveScheduler) Start() {
	s.cron.Start()
	s.logger.Info("proactive scheduler started",
		"schedule", s.opts.Schedule,
		"conversations", len(s.opts.ConversationKeys),
	)
}

// Stop waits for a running check to finish.
func (s *ProactiveScheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("proactive scheduler stopped")
}

// RunOnce checks every configured conversation and returns how many messages
// were published.
func (s *ProactiveScheduler) RunOnce(ctx context.Context) int {
	now := s.now()
	sent := 0
	for _, key := range s.opts.ConversationKeys {
		level := ""
		if cold := s.engine.ColdCheck(key, now); cold != nil {
			level = cold.Level
		}

		text, ok := s.engine.CheckAndGenerate(key, s.opts.Mood, now)
		if !ok {
			continue
		}

		msg := &models.ProactiveMessage{
			ConversationKey: key,
			Text:            text,
			ColdLevel:       level,
			CreatedAt:       now,
		}
		if err := s.publisher.PublishProactive(ctx, msg); err != nil {
			s.logger.Error("failed to publish proactive message", "conversation", key, "error", err)
			continue
		}
		sent++

		if s.recorder != nil {
			if err := s.recorder.AddMessage(ctx, key, models.RoleAssistant, text, "", s.opts.BotName); err != nil {
				s.logger.Warn("failed to store proactive message", "conversation", key, "error", err)
			}
		}
	}
	return sent
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
