package dialogue

import (
	"log/slog"
	"time"
)

const (
	defaultTopicName = "闲聊"
	switchTopicName  = "新话题"
	maxKeywords      = 3
)

type TopicOptions struct {
	SwitchThreshold    int
	RelevanceThreshold float64
	HistorySize        int
}

func DefaultTopicOptions() TopicOptions {
	return TopicOptions{SwitchThreshold: 3, RelevanceThreshold: 0.3, HistorySize: 10}
}

// withDefaults fills counts that cannot be zero. RelevanceThreshold is taken
// as given.
func (o *TopicOptions) withDefaults() {
	if o.SwitchThreshold <= 0 {
		o.SwitchThreshold = 3
	}
	if o.HistorySize <= 0 {
		o.HistorySize = 10
	}
}

// TopicTracker follows the current topic of one conversation. It is not safe
// for concurrent use; Analyzer serializes access per conversation key.
type TopicTracker struct {
	opts       TopicOptions
	segmenter  *Segmenter
	current    *Topic
	history    []*Topic
	irrelevant int
	logger     *slog.Logger
}

func NewTopicTracker(segmenter *Segmenter, opts TopicOptions, logger *slog.Logger) *TopicTracker {
	if segmenter == nil {
		segmenter = NewSegmenter(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts.withDefaults()
	return &TopicTracker{opts: opts, segmenter: segmenter, logger: logger}
}

// Update feeds one message into the tracker.
func (t *TopicTracker) Update(text, participant string, now time.Time) *TopicStatus {
	keywords := t.segmenter.Keywords(text, maxKeywords)

	if t.current == nil {
		name := defaultTopicName
		if len(keywords) > 0 {
			name = keywords[0]
		}
		t.current = newTopic(name, keywords, participant, now)
		t.logger.Debug("topic created", "topic", name)
		return &TopicStatus{Status: TopicNew, Topic: t.current.clone()}
	}

	relevance := t.Relevance(keywords, t.current.Keywords)
	if relevance >= t.opts.RelevanceThreshold {
		t.irrelevant = 0
		t.current.touch(participant, now)
		return &TopicStatus{Status: TopicMaintaining, Topic: t.current.clone()}
	}

	t.irrelevant++
	t.logger.Debug("irrelevant message",
		"topic", t.current.Name,
		"count", t.irrelevant,
		"threshold", t.opts.SwitchThreshold,
	)
	if t.irrelevant < t.opts.SwitchThreshold {
		return &TopicStatus{Status: TopicMaintaining, Topic: t.current.clone()}
	}
	return t.switchTopic(keywords, participant, now)
}

func (t *TopicTracker) switchTopic(keywords []string, participant string, now time.Time) *TopicStatus {
	old := t.current
	t.history = append(t.history, old)
	if len(t.history) > t.opts.HistorySize {
		t.history = t.history[len(t.history)-t.opts.HistorySize:]
	}

	name := switchTopicName
	if len(keywords) > 0 {
		name = keywords[0]
	}
	t.current = newTopic(name, keywords, participant, now)
	t.irrelevant = 0

	t.logger.Info("topic switched", "from", old.Name, "to", name)
	return &TopicStatus{Status: TopicSwitching, Topic: t.current.clone(), OldTopic: old.Name}
}

// Relevance is the Jaccard similarity of the concept sets of a and b.
// Either side empty gives 0.
func (t *TopicTracker) Relevance(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := t.segmenter.Concepts(a)
	setB := t.segmenter.Concepts(b)

	inter := 0
	for k := range setA {
		if _, ok := setB[k]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Current returns a snapshot of the current topic, or nil.
func (t *TopicTracker) Current() *Topic {
	return t.current.clone()
}

// History returns snapshots of superseded topics, oldest first.
func (t *TopicTracker) History() []*Topic {
	out := make([]*Topic, len(t.history))
	for i, topic := range t.history {
		out[i] = topic.clone()
	}
	return out
}
