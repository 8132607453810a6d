package dialogue

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"
)

// ColdResult describes a conversation that has gone quiet.
type ColdResult struct {
	Level       string
	Duration    time.Duration
	Probability float64
}

var coldLevelNames = []string{"mild", "moderate", "severe"}

type ColdOptions struct {
	Thresholds    []time.Duration
	Probabilities []float64
}

// ColdDetector tracks the last message time of each conversation.
type ColdDetector struct {
	opts ColdOptions
	mu   sync.RWMutex
	last map[string]time.Time
}

func NewColdDetector(opts ColdOptions) *ColdDetector {
	if len(opts.Thresholds) == 0 || len(opts.Thresholds) != len(opts.Probabilities) {
		opts.Thresholds = []time.Duration{5 * time.Minute, 10 * time.Minute, 20 * time.Minute}
		opts.Probabilities = []float64{0.2, 0.5, 0.8}
	}
	return &ColdDetector{opts: opts, last: make(map[string]time.Time)}
}

// Touch records a message in key at t.
func (d *ColdDetector) Touch(key string, t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last[key] = t
}

// Check returns the cold band of key, or nil when it is not cold. A key that
// has never been touched is never cold.
func (d *ColdDetector) Check(key string, now time.Time) *ColdResult {
	d.mu.RLock()
	last, ok := d.last[key]
	d.mu.RUnlock()
	if !ok {
		return nil
	}

	quiet := now.Sub(last)
	band := -1
	for i, threshold := range d.opts.Thresholds {
		if quiet >= threshold {
			band = i
		}
	}
	if band < 0 {
		return nil
	}
	return &ColdResult{
		Level:       coldLevelName(band),
		Duration:    quiet,
		Probability: d.opts.Probabilities[band],
	}
}

func coldLevelName(i int) string {
	if i < len(coldLevelNames) {
		return coldLevelNames[i]
	}
	return fmt.Sprintf("level_%d", i+1)
}

// Action kinds recorded by the judge.
const ActionProactiveMessage = "proactive_message"

type JudgeOptions struct {
	WhenMentioned float64
	WhenRelevant  float64
	WhenCold      float64
	Cooldown      time.Duration
	MaxPerHour    int
}

// DefaultJudgeOptions returns the stock probabilities and limits. Every
// field is used as given, so a zero MaxPerHour silences the judge.
func DefaultJudgeOptions() JudgeOptions {
	return JudgeOptions{
		WhenMentioned: 0.8,
		WhenRelevant:  0.4,
		WhenCold:      0.6,
		Cooldown:      10 * time.Minute,
		MaxPerHour:    3,
	}
}

// Signals feed the interjection judge. A zero ColdProbability uses WhenCold.
type Signals struct {
	ConversationKey string
	Mentioned       bool
	Private         bool
	Relevant        bool
	Cold            bool
	ColdProbability float64
}

type judgeAction struct {
	kind string
	at   time.Time
}

// InterjectionJudge turns signals into a probability of speaking unprompted.
type InterjectionJudge struct {
	opts    JudgeOptions
	mu      sync.Mutex
	actions map[string][]judgeAction
}

func NewInterjectionJudge(opts JudgeOptions) *InterjectionJudge {
	return &InterjectionJudge{opts: opts, actions: make(map[string][]judgeAction)}
}

func (j *InterjectionJudge) Probability(s Signals, now time.Time) float64 {
	if s.Mentioned {
		return j.opts.WhenMentioned
	}
	if s.Private {
		return 0
	}

	p := 0.0
	if s.Relevant {
		p += j.opts.WhenRelevant
	}
	if s.Cold {
		if s.ColdProbability > 0 {
			p += s.ColdProbability
		} else {
			p += j.opts.WhenCold
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	actions := j.prune(s.ConversationKey, now)
	if n := len(actions); n > 0 && now.Sub(actions[n-1].at) < j.opts.Cooldown {
		return 0
	}
	recent := 0
	for _, a := range actions {
		if a.kind == ActionProactiveMessage {
			recent++
		}
	}
	if recent >= j.opts.MaxPerHour {
		return 0
	}
	return min(p, 1.0)
}

// RecordAction notes that the assistant acted unprompted in key.
func (j *InterjectionJudge) RecordAction(key, kind string, now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.actions[key] = append(j.prune(key, now), judgeAction{kind: kind, at: now})
}

// prune drops actions older than an hour. Callers hold j.mu.
func (j *InterjectionJudge) prune(key string, now time.Time) []judgeAction {
	actions := j.actions[key]
	i := 0
	for i < len(actions) && now.Sub(actions[i].at) >= time.Hour {
		i++
	}
	actions = actions[i:]
	j.actions[key] = actions
	return actions
}

// DefaultTopics is the preset pool of opening lines.
var DefaultTopics = []string{
	"嗯...大家最近都在忙什么呀",
	"那个...有人在吗",
	"今天...过得怎么样",
	"呀...好安静",
	"最近有看到什么有趣的事情吗",
	"大家平时都喜欢做什么呢",
	"有什么推荐的剧或动漫吗",
	"聊聊你最近在玩什么游戏吧",
	"分享一个最近的小确幸吧",
	"今天有什么开心的事吗",
	"最近有什么新发现吗",
	"今天天气还不错呢",
	"大家都吃饭了吗",
	"周末有什么计划吗",
	"大家...还好吗",
	"要不要休息一下",
	"记得多喝水哦",
}

var moodKeywords = map[string][]string{
	"excited": {"游戏", "好玩", "有趣", "分享"},
	"calm":    {"最近", "平时", "喜欢", "推荐"},
	"quiet":   {"大家", "怎么样", "在吗", "聊聊"},
	"low":     {"还好吗", "怎么了", "加油"},
}

const topicPickWindow = 3

// GeneratorOptions configures a TopicGenerator. RecentSize 0 allows a topic
// to repeat straight away.
type GeneratorOptions struct {
	Topics     []string
	RecentSize int
}

// TopicGenerator picks opening lines, avoiding recently used ones.
type TopicGenerator struct {
	topics     []string
	recentSize int

	mu     sync.Mutex
	recent []string
	rng    *rand.Rand
}

// NewTopicGenerator uses rng for picks; nil seeds a fresh source.
func NewTopicGenerator(opts GeneratorOptions, rng *rand.Rand) *TopicGenerator {
	if len(opts.Topics) == 0 {
		opts.Topics = DefaultTopics
	}
	if opts.RecentSize < 0 {
		opts.RecentSize = 0
	}
	return &TopicGenerator{
		topics:     slices.Clone(opts.Topics),
		recentSize: opts.RecentSize,
		rng:        orNewRand(rng),
	}
}

// Generate returns an opening line suited to mood, or false when every topic
// was used recently.
func (g *TopicGenerator) Generate(mood string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var candidates []string
	for _, t := range g.topics {
		if !slices.Contains(g.recent, t) {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}

	if suited := filterByMood(candidates, mood); len(suited) > 0 {
		candidates = suited
	}
	if len(candidates) > topicPickWindow {
		candidates = candidates[:topicPickWindow]
	}
	picked := candidates[g.rng.IntN(len(candidates))]

	g.recent = append(g.recent, picked)
	if len(g.recent) > g.recentSize {
		g.recent = g.recent[len(g.recent)-g.recentSize:]
	}
	return picked, true
}

func filterByMood(topics []string, mood string) []string {
	keywords, ok := moodKeywords[mood]
	if !ok {
		return nil
	}
	var out []string
	for _, t := range topics {
		for _, kw := range keywords {
			if strings.Contains(t, kw) {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// ProactiveOptions configures the engine. RelevantWindow is how recently the
// assistant must have spoken for a cold conversation to count as relevant.
type ProactiveOptions struct {
	RelevantWindow time.Duration
}

// ProactiveEngine decides when a quiet conversation gets an unprompted line.
type ProactiveEngine struct {
	cold      *ColdDetector
	judge     *InterjectionJudge
	generator *TopicGenerator
	activity  *ActivityTracker
	opts      ProactiveOptions

	mu  sync.Mutex
	rng *rand.Rand

	logger *slog.Logger
}

func NewProactiveEngine(
	cold *ColdDetector,
	judge *InterjectionJudge,
	generator *TopicGenerator,
	activity *ActivityTracker,
	opts ProactiveOptions,
	rng *rand.Rand,
	logger *slog.Logger,
) *ProactiveEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RelevantWindow <= 0 {
		opts.RelevantWindow = 30 * time.Minute
	}
	return &ProactiveEngine{
		cold:      cold,
		judge:     judge,
		generator: generator,
		activity:  activity,
		opts:      opts,
		rng:       orNewRand(rng),
		logger:    logger,
	}
}

// Touch records an inbound message in key.
func (e *ProactiveEngine) Touch(key string, now time.Time) {
	e.cold.Touch(key, now)
}

// ColdCheck exposes the cold detector result for key.
func (e *ProactiveEngine) ColdCheck(key string, now time.Time) *ColdResult {
	return e.cold.Check(key, now)
}

// CheckAndGenerate returns a line to post in key, if the conversation is cold
// and the judge and a random draw agree.
func (e *ProactiveEngine) CheckAndGenerate(key, mood string, now time.Time) (string, bool) {
	cold := e.cold.Check(key, now)
	if cold == nil {
		return "", false
	}

	p := e.judge.Probability(Signals{
		ConversationKey: key,
		Cold:            true,
		ColdProbability: cold.Probability,
		Relevant:        e.activity != nil && e.activity.RepliedWithin(key, now, e.opts.RelevantWindow),
	}, now)

	e.mu.Lock()
	draw := e.rng.Float64()
	e.mu.Unlock()
	if p == 0 || draw > p {
		e.logger.Debug("proactive check declined",
			"conversation", key,
			"level", cold.Level,
			"probability", p,
		)
		return "", false
	}

	text, ok := e.generator.Generate(mood)
	if !ok {
		e.logger.Warn("no proactive topic available", "conversation", key)
		return "", false
	}
	e.judge.RecordAction(key, ActionProactiveMessage, now)
	e.logger.Info("proactive message generated",
		"conversation", key,
		"level", cold.Level,
		"quiet_for", cold.Duration.Round(time.Second),
	)
	return text, true
}

func orNewRand(rng *rand.Rand) *rand.Rand {
	if rng != nil {
		return rng
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}
