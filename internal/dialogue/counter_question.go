package dialogue

import (
	"regexp"
	"time"
)

var counterQuestionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`你呢[?？]?`),
	regexp.MustCompile(`那你呢[?？]?`),
	regexp.MustCompile(`你.*怎么样[?？]?`),
	regexp.MustCompile(`你.*呢[?？]?`),
	regexp.MustCompile(`你.*如何[?？]?`),
	regexp.MustCompile(`你觉得呢[?？]?`),
	regexp.MustCompile(`你说呢[?？]?`),
	regexp.MustCompile(`(?i)what about you`),
	regexp.MustCompile(`(?i)and you\??`),
	regexp.MustCompile(`(?i)how about you`),
}

type askedQuestion struct {
	Question string
	AskedAt  time.Time
}

// CounterQuestionMatch is reported when a message turns one of our own
// questions back on us.
type CounterQuestionMatch struct {
	OriginalQuestion string
	AskedAt          time.Time
}

// CounterQuestionDetector remembers the last few questions the assistant asked
// in one conversation. Not safe for concurrent use.
type CounterQuestionDetector struct {
	stack    []askedQuestion
	capacity int
	window   time.Duration
}

func NewCounterQuestionDetector(capacity int, window time.Duration) *CounterQuestionDetector {
	if capacity <= 0 {
		capacity = 3
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &CounterQuestionDetector{capacity: capacity, window: window}
}

// RegisterQuestion pushes a question the assistant just asked.
func (d *CounterQuestionDetector) RegisterQuestion(q string, now time.Time) {
	d.stack = append(d.stack, askedQuestion{Question: q, AskedAt: now})
	if len(d.stack) > d.capacity {
		d.stack = d.stack[len(d.stack)-d.capacity:]
	}
}

// Detect returns a match when msg looks reflexive and the newest registered
// question is still inside the window. A stale top entry is discarded.
func (d *CounterQuestionDetector) Detect(msg string, now time.Time) (*CounterQuestionMatch, bool) {
	if !matchesCounterPattern(msg) || len(d.stack) == 0 {
		return nil, false
	}
	top := d.stack[len(d.stack)-1]
	if now.Sub(top.AskedAt) > d.window {
		d.stack = d.stack[:len(d.stack)-1]
		return nil, false
	}
	return &CounterQuestionMatch{OriginalQuestion: top.Question, AskedAt: top.AskedAt}, true
}

// Len is the number of stacked questions.
func (d *CounterQuestionDetector) Len() int {
	return len(d.stack)
}

func matchesCounterPattern(msg string) bool {
	for _, p := range counterQuestionPatterns {
		if p.MatchString(msg) {
			return true
		}
	}
	return false
}
