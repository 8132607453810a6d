package dialogue

import (
	"log/slog"
	"sync"
	"time"
)

// Detector names accepted in AnalyzerOptions.Precedence.
const (
	DetectorSarcasm         = "sarcasm"
	DetectorCounterQuestion = "counter_question"
)

const counterQuestionConfidence = 0.9

var (
	questionMarks = []string{"?", "？", "吗", "呢", "吧"}
	questionWords = []string{"什么", "怎么", "为什么", "哪", "谁", "几", "多少", "如何"}
)

type AnalyzerOptions struct {
	CounterQuestion bool
	Sarcasm         bool
	TopicTracking   bool

	StackSize      int
	QuestionWindow time.Duration

	SarcasmOptions SarcasmOptions
	TopicOptions   TopicOptions

	// Precedence decides which detector owns Type and Confidence when both
	// fire. Earlier entries win.
	Precedence []string
}

type conversationIntent struct {
	mu        sync.Mutex
	topics    *TopicTracker
	questions *CounterQuestionDetector
}

// Analyzer runs the intent detectors and the topic tracker, keeping one
// tracker and one question stack per conversation key.
type Analyzer struct {
	opts      AnalyzerOptions
	segmenter *Segmenter
	sarcasm   *SarcasmDetector

	mu            sync.Mutex
	conversations map[string]*conversationIntent

	logger *slog.Logger
}

func NewAnalyzer(segmenter *Segmenter, opts AnalyzerOptions, logger *slog.Logger) *Analyzer {
	if segmenter == nil {
		segmenter = NewSegmenter(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if len(opts.Precedence) == 0 {
		opts.Precedence = []string{DetectorSarcasm, DetectorCounterQuestion}
	}
	return &Analyzer{
		opts:          opts,
		segmenter:     segmenter,
		sarcasm:       NewSarcasmDetector(opts.SarcasmOptions),
		conversations: make(map[string]*conversationIntent),
		logger:        logger,
	}
}

func (a *Analyzer) conversation(key string) *conversationIntent {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, ok := a.conversations[key]
	if !ok {
		c = &conversationIntent{
			topics:    NewTopicTracker(a.segmenter, a.opts.TopicOptions, a.logger),
			questions: NewCounterQuestionDetector(a.opts.StackSize, a.opts.QuestionWindow),
		}
		a.conversations[key] = c
	}
	return c
}

// Analyze classifies one inbound message. The topic status is nil when topic
// tracking is disabled.
func (a *Analyzer) Analyze(key, text, senderID string, now time.Time) (*IntentResult, *TopicStatus) {
	c := a.conversation(key)
	c.mu.Lock()
	defer c.mu.Unlock()

	result := &IntentResult{Type: IntentNormal, Confidence: 0.5}

	var counter *CounterQuestionMatch
	if a.opts.CounterQuestion {
		if m, ok := c.questions.Detect(text, now); ok {
			counter = m
			result.IsCounterQuestion = true
			result.OriginalQuestion = m.OriginalQuestion
		}
	}

	var sarcasm SarcasmResult
	if a.opts.Sarcasm {
		sarcasm = a.sarcasm.Detect(text)
		result.IsSarcastic = sarcasm.Sarcastic
	}

	for _, name := range a.opts.Precedence {
		if name == DetectorSarcasm && sarcasm.Sarcastic {
			result.Type = IntentSarcasm
			result.Confidence = sarcasm.Confidence
			break
		}
		if name == DetectorCounterQuestion && counter != nil {
			result.Type = IntentCounterQuestion
			result.Confidence = counterQuestionConfidence
			break
		}
	}

	var status *TopicStatus
	if a.opts.TopicTracking {
		status = c.topics.Update(text, senderID, now)
		if status.Topic != nil {
			result.Topic = status.Topic.Name
		}
	}

	if result.Type == IntentNormal && IsQuestion(text) {
		result.Type = IntentQuestion
	}

	if result.Type != IntentNormal {
		a.logger.Debug("intent detected",
			"conversation", key,
			"type", result.Type,
			"confidence", result.Confidence,
		)
	}
	return result, status
}

// RegisterBotQuestion records a question the assistant asked in key.
func (a *Analyzer) RegisterBotQuestion(key, question string, now time.Time) {
	if !a.opts.CounterQuestion {
		return
	}
	c := a.conversation(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.questions.RegisterQuestion(question, now)
}

// IsQuestion is a surface check for question marks, particles and question words.
func IsQuestion(text string) bool {
	return containsAny(text, questionMarks) || containsAny(text, questionWords)
}

