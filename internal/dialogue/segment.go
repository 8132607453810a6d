package dialogue

import (
	"fmt"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// LexiconFile is the on-disk lexicon format. Entries are merged over the
// built-in lexicon.
//
//	concepts:
//	  天气: [阳光明媚, 下雨, 降温]
//	words: [火锅, 篮球]
//	stopwords: [然后]
type LexiconFile struct {
	Concepts  map[string][]string `yaml:"concepts"`
	Words     []string            `yaml:"words"`
	Stopwords []string            `yaml:"stopwords"`
}

// Lexicon is the dictionary behind the Segmenter. Each known word maps to a
// concept label; plain words map to themselves.
type Lexicon struct {
	concepts  map[string]string
	stopwords map[string]struct{}
	maxRunes  int
}

// NewLexicon returns an empty lexicon.
func NewLexicon() *Lexicon {
	return &Lexicon{
		concepts:  make(map[string]string),
		stopwords: make(map[string]struct{}),
		maxRunes:  1,
	}
}

// AddWord registers word under concept. An empty concept maps the word to itself.
func (l *Lexicon) AddWord(word, concept string) {
	word = strings.TrimSpace(word)
	if word == "" {
		return
	}
	if concept == "" {
		concept = word
	}
	l.concepts[word] = concept
	if n := utf8.RuneCountInString(word); n > l.maxRunes {
		l.maxRunes = n
	}
}

// AddStopword registers a word that is dropped from keyword output. Stopwords
// also segment as whole words.
func (l *Lexicon) AddStopword(word string) {
	word = strings.TrimSpace(word)
	if word == "" {
		return
	}
	l.stopwords[word] = struct{}{}
	if n := utf8.RuneCountInString(word); n > l.maxRunes {
		l.maxRunes = n
	}
}

// Merge adds every entry of f.
func (l *Lexicon) Merge(f *LexiconFile) {
	for concept, words := range f.Concepts {
		l.AddWord(concept, concept)
		for _, w := range words {
			l.AddWord(w, concept)
		}
	}
	for _, w := range f.Words {
		l.AddWord(w, "")
	}
	for _, w := range f.Stopwords {
		l.AddStopword(w)
	}
}

// Concept returns the concept label for word, or word itself.
func (l *Lexicon) Concept(word string) string {
	if c, ok := l.concepts[word]; ok {
		return c
	}
	return word
}

func (l *Lexicon) known(word string) bool {
	if _, ok := l.concepts[word]; ok {
		return true
	}
	_, ok := l.stopwords[word]
	return ok
}

func (l *Lexicon) isStopword(word string) bool {
	_, ok := l.stopwords[word]
	return ok
}

// LoadLexicon reads a YAML lexicon file and merges it over the built-in one.
func LoadLexicon(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lexicon %s: %w", path, err)
	}
	var f LexiconFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse lexicon %s: %w", path, err)
	}
	lex := DefaultLexicon()
	lex.Merge(&f)
	return lex, nil
}

// DefaultLexicon returns the built-in lexicon.
func DefaultLexicon() *Lexicon {
	lex := NewLexicon()
	lex.Merge(&builtinLexicon)
	return lex
}

var builtinLexicon = LexiconFile{
	Concepts: map[string][]string{
		"天气": {"阳光明媚", "晴天", "阴天", "下雨", "下雪", "刮风", "气温", "温度", "降温", "升温", "台风", "太阳", "阳光", "雨天", "天晴", "好热", "好冷"},
		"美食": {"火锅", "烧烤", "奶茶", "外卖", "吃饭", "午饭", "晚饭", "早饭", "夜宵", "好吃", "饭店", "做饭", "零食", "咖啡", "蛋糕"},
		"游戏": {"原神", "王者荣耀", "英雄联盟", "打游戏", "玩游戏", "上分", "开黑", "抽卡", "副本", "手游", "主机", "游戏机", "steam"},
		"运动": {"篮球", "足球", "羽毛球", "跑步", "健身", "游泳", "打球", "锻炼", "球赛"},
		"工作": {"上班", "加班", "下班", "老板", "同事", "开会", "工资", "辞职", "面试", "项目"},
		"学习": {"考试", "作业", "复习", "上课", "老师", "学校", "论文", "考研", "期末"},
		"影视": {"电影", "电视剧", "追剧", "综艺", "动漫", "番剧", "看剧", "影院"},
		"音乐": {"唱歌", "听歌", "歌曲", "演唱会", "专辑", "歌手"},
		"数码": {"手机", "电脑", "笔记本", "耳机", "显卡", "相机", "平板"},
		"旅行": {"旅游", "出去玩", "景点", "机票", "酒店", "高铁", "假期", "度假"},
		"宠物": {"猫咪", "小猫", "狗狗", "小狗", "铲屎官", "养猫", "养狗"},
		"睡眠": {"睡觉", "失眠", "熬夜", "早睡", "午睡", "困了"},
	},
	Words: []string{
		"周末", "新闻", "股票", "基金", "房子", "电动车", "汽车", "地铁",
		"朋友", "家人", "生日", "礼物", "小说", "漫画", "画画", "编程", "代码",
	},
	Stopwords: []string{
		"的", "了", "是", "在", "我", "你", "他", "她", "它", "们",
		"这", "那", "有", "和", "就", "不", "都", "而", "及", "与",
		"吗", "呢", "吧", "啊", "哦", "嗯", "哈",
		"今天", "昨天", "明天", "现在", "刚才", "真好", "是啊", "对啊", "好的", "哈哈",
		"我们", "你们", "他们", "大家", "什么", "怎么", "觉得", "感觉", "还是", "就是",
		"可以", "一下", "一个", "这个", "那个", "没有", "真的", "有点", "然后", "因为",
		"所以", "但是", "不过", "已经", "还有", "时候", "知道",
	},
}

// Segmenter splits text into words by forward maximum matching over a Lexicon.
type Segmenter struct {
	lexicon *Lexicon
}

// NewSegmenter returns a segmenter over lex, or the built-in lexicon when nil.
func NewSegmenter(lex *Lexicon) *Segmenter {
	if lex == nil {
		lex = DefaultLexicon()
	}
	return &Segmenter{lexicon: lex}
}

// Cut splits text into tokens. Han text is matched greedily against the
// lexicon, falling back to single runes. Runs of letters and digits are kept
// whole and lowercased. Punctuation and spaces separate tokens.
func (s *Segmenter) Cut(text string) []string {
	runes := []rune(text)
	var tokens []string
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.Is(unicode.Han, r):
			n := s.match(runes[i:])
			tokens = append(tokens, string(runes[i:i+n]))
			i += n
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			j := i + 1
			for j < len(runes) && !unicode.Is(unicode.Han, runes[j]) &&
				(unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j])) {
				j++
			}
			tokens = append(tokens, strings.ToLower(string(runes[i:j])))
			i = j
		default:
			i++
		}
	}
	return tokens
}

func (s *Segmenter) match(runes []rune) int {
	limit := min(s.lexicon.maxRunes, len(runes))
	for n := limit; n > 1; n-- {
		if !allHan(runes[:n]) {
			continue
		}
		if s.lexicon.known(string(runes[:n])) {
			return n
		}
	}
	return 1
}

func allHan(runes []rune) bool {
	for _, r := range runes {
		if !unicode.Is(unicode.Han, r) {
			return false
		}
	}
	return true
}

// Keywords returns up to limit distinct non-stopword tokens of at least two runes.
func (s *Segmenter) Keywords(text string, limit int) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, tok := range s.Cut(text) {
		if utf8.RuneCountInString(tok) < 2 || s.lexicon.isStopword(tok) {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Concepts maps each keyword to its concept label, deduplicated.
func (s *Segmenter) Concepts(keywords []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		set[s.lexicon.Concept(k)] = struct{}{}
	}
	return set
}
