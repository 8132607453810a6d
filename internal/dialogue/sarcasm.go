package dialogue

import (
	"regexp"
	"strings"
)

var (
	sarcasmPunctuation = []string{"~", "。。。", "...", "!!!", "？？？"}
	sarcasmToneWords   = []string{"呵", "切", "哟", "哦~", "嗯呢", "呵呵", "哈哈哈哈"}
	sarcasmReversals   = []*regexp.Regexp{
		regexp.MustCompile(`(真|太|好|棒|厉害).{0,5}(呢|呀|呗|哦)`),
		regexp.MustCompile(`可真.{2,4}呢`),
		regexp.MustCompile(`(不愧是|果然是).{2,8}`),
	}
)

type SarcasmOptions struct {
	Threshold         float64
	PunctuationWeight float64
	ToneWeight        float64
	PatternWeight     float64
}

// DefaultSarcasmOptions returns the stock weights. A zero weight switches
// its signal off, so callers start from these rather than a zero value.
func DefaultSarcasmOptions() SarcasmOptions {
	return SarcasmOptions{
		Threshold:         0.6,
		PunctuationWeight: 0.25,
		ToneWeight:        0.35,
		PatternWeight:     0.35,
	}
}

// SarcasmResult carries the score and which signals fired.
type SarcasmResult struct {
	Sarcastic  bool
	Score      float64
	Confidence float64
	Reasons    []string
}

// SarcasmDetector scores surface signals of sarcasm. It holds no state.
type SarcasmDetector struct {
	opts SarcasmOptions
}

func NewSarcasmDetector(opts SarcasmOptions) *SarcasmDetector {
	return &SarcasmDetector{opts: opts}
}

func (d *SarcasmDetector) Detect(msg string) SarcasmResult {
	var res SarcasmResult

	if containsAny(msg, sarcasmPunctuation) {
		res.Score += d.opts.PunctuationWeight
		res.Reasons = append(res.Reasons, "punctuation")
	}
	if containsAny(msg, sarcasmToneWords) {
		res.Score += d.opts.ToneWeight
		res.Reasons = append(res.Reasons, "tone_words")
	}
	for _, p := range sarcasmReversals {
		if p.MatchString(msg) {
			res.Score += d.opts.PatternWeight
			res.Reasons = append(res.Reasons, "reverse_pattern")
			break
		}
	}

	res.Sarcastic = res.Score >= d.opts.Threshold
	res.Confidence = min(res.Score, 1.0)
	return res
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
