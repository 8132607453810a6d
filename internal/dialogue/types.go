// Package dialogue tracks what a conversation is about and how it is going:
// intent detection, topic tracking, the per-conversation state machine, prompt
// enrichment and the proactive engagement engine.
package dialogue

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// IntentType classifies a single inbound message.
type IntentType string

const (
	IntentNormal          IntentType = "normal"
	IntentQuestion        IntentType = "question"
	IntentCounterQuestion IntentType = "counter_question"
	IntentSarcasm         IntentType = "sarcasm"
)

// IntentResult is the per-message analysis output. It is never persisted.
type IntentResult struct {
	Type              IntentType `json:"type"`
	Topic             string     `json:"topic,omitempty"`
	IsCounterQuestion bool       `json:"is_counter_question"`
	OriginalQuestion  string     `json:"original_question,omitempty"`
	IsSarcastic       bool       `json:"is_sarcastic"`
	Confidence        float64    `json:"confidence"`
}

// Topic is a tracked subject of conversation.
type Topic struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Keywords     []string  `json:"keywords"`
	StartTime    time.Time `json:"start_time"`
	LastActive   time.Time `json:"last_active"`
	Participants []string  `json:"participants"`
	MessageCount int       `json:"message_count"`
}

func newTopic(name string, keywords []string, participant string, now time.Time) *Topic {
	t := &Topic{
		ID:         uuid.New().String(),
		Name:       name,
		Keywords:   keywords,
		StartTime:  now,
		LastActive: now,
	}
	if participant != "" {
		t.Participants = []string{participant}
	}
	return t
}

func (t *Topic) touch(participant string, now time.Time) {
	t.LastActive = now
	if participant != "" && !slices.Contains(t.Participants, participant) {
		t.Participants = append(t.Participants, participant)
	}
	t.MessageCount++
}

func (t *Topic) clone() *Topic {
	if t == nil {
		return nil
	}
	c := *t
	c.Keywords = slices.Clone(t.Keywords)
	c.Participants = slices.Clone(t.Participants)
	return &c
}

// TopicStatusKind reports what the tracker did with a message.
type TopicStatusKind string

const (
	TopicNew         TopicStatusKind = "new"
	TopicMaintaining TopicStatusKind = "maintaining"
	TopicSwitching   TopicStatusKind = "switching"
)

// TopicStatus is returned by TopicTracker.Update. Topic is a snapshot.
type TopicStatus struct {
	Status   TopicStatusKind `json:"status"`
	Topic    *Topic          `json:"topic,omitempty"`
	OldTopic string          `json:"old_topic,omitempty"`
}

// Switched reports whether this message caused a topic switch.
func (s *TopicStatus) Switched() bool {
	return s != nil && s.Status == TopicSwitching
}

// State is the dialogue phase of one conversation.
type State string

const (
	StateOpening     State = "opening"
	StateMaintaining State = "maintaining"
	StateSwitching   State = "switching"
	StateClosing     State = "closing"
)
