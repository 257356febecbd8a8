package moderation

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	vtext "github.com/velzar/velzar/internal/utils/text"
)

type RuleKind string

const (
	RuleJailbreak RuleKind = "jailbreak"
	RuleAbuse     RuleKind = "abuse"
)

type Rule struct {
	Kind    RuleKind
	Name    string
	Pattern *regexp.Regexp
}

type Match struct {
	Kind     RuleKind
	Rule     string
	Fragment string
}

var (
	jailbreakPhrases = []string{
		"ignore previous instructions",
		"ignore all previous instructions",
		"do anything now",
		"dan mode",
		"you are not an ai",
		"unfiltered",
		"uncensored",
		"developer mode",
		"actua como",
		"roleplay as a hacked",
		"system override",
	}

	// Alert keywords match as word prefixes, so inflections ("scammer", "nazis") still fire.
	alertKeywords = []string{
		"estafa",
		"fraud",
		"scam",
		"ddos",
		"doxxing",
		"child porn",
		"gore",
		"suicide",
		"suicidio",
		"asesinar",
		"kill",
		"bomb",
		"terroris",
		"nigger",
		"faggot",
		"maricon",
		"sudaca",
		"hitler",
		"nazi",
	}

	// Too short to match as a prefix.
	alertWords = []string{
		"cp",
	}

	abusePatterns = map[string]string{
		"crypto_doubling": `\b(double|triple|x2|x10)\s+your\s+(btc|bitcoin|crypto|eth|usdt|money)\b`,
		"crypto_giveaway": `\b(btc|bitcoin|eth|ethereum|usdt|crypto)\s+giveaway\b`,
		"guaranteed_gain": `\bguaranteed\s+(profit|returns?|income)\b`,
		"send_to_wallet":  `\bsend\s+(me\s+)?\d*\s*(btc|eth|usdt)\b`,
		"seed_phrase":     `\b(seed|recovery)\s+phrase\b`,
		"link_shortener":  `\b(bit\.ly|tinyurl\.com|cutt\.ly|is\.gd|t\.ly|shorturl\.at|rb\.gy|grabify\.link|iplogger\.(org|com))/\S+`,
		"profanity_en":    `\bf+u+c+k+\w*|\bmotherf\w*|\bc+u+n+t+s?\b`,
		"profanity_es":    `\bhij[oa]\s+de\s+put\w*|\bputas?\b|\bputos?\b|\bmalparid\w*|\bgilipollas\b`,
	}
)

// HeuristicFilter screens text with two ordered rule sets: jailbreak phrases, then abuse patterns.
// It is immutable after construction.
type HeuristicFilter struct {
	jailbreak []Rule
	abuse     []Rule
}

func NewHeuristicFilter(jailbreak, abuse []Rule) *HeuristicFilter {
	return &HeuristicFilter{
		jailbreak: append([]Rule(nil), jailbreak...),
		abuse:     append([]Rule(nil), abuse...),
	}
}

func DefaultHeuristicFilter() *HeuristicFilter {
	return NewHeuristicFilter(DefaultJailbreakRules(), DefaultAbuseRules())
}

func DefaultJailbreakRules() []Rule {
	rules := make([]Rule, 0, len(jailbreakPhrases))
	for _, phrase := range jailbreakPhrases {
		rules = append(rules, PhraseRule(RuleJailbreak, phrase, false))
	}
	return rules
}

func DefaultAbuseRules() []Rule {
	rules := make([]Rule, 0, len(alertKeywords)+len(alertWords)+len(abusePatterns))
	for _, keyword := range alertKeywords {
		rules = append(rules, KeywordRule(RuleAbuse, keyword))
	}
	for _, word := range alertWords {
		rules = append(rules, PhraseRule(RuleAbuse, word, true))
	}
	for _, name := range sortedKeys(abusePatterns) {
		rules = append(rules, Rule{
			Kind:    RuleAbuse,
			Name:    name,
			Pattern: regexp.MustCompile(`(?i)` + abusePatterns[name]),
		})
	}
	return rules
}

// PhraseRule matches phrase case-insensitively, tolerating any run of whitespace between words.
// Whole-word rules do not fire inside longer words ("cpu" does not match "cp").
func PhraseRule(kind RuleKind, phrase string, wholeWord bool) Rule {
	expr := phraseExpr(phrase)
	if wholeWord {
		expr = `\b` + expr + `\b`
	}
	return Rule{
		Kind:    kind,
		Name:    phrase,
		Pattern: regexp.MustCompile(`(?i)` + expr),
	}
}

// KeywordRule matches keyword at the start of a word and accepts any suffix:
// "kill" fires on "killing" but not on "skill".
func KeywordRule(kind RuleKind, keyword string) Rule {
	return Rule{
		Kind:    kind,
		Name:    keyword,
		Pattern: regexp.MustCompile(`(?i)\b` + phraseExpr(keyword) + `\w*`),
	}
}

func phraseExpr(phrase string) string {
	words := strings.Fields(normalizeText(phrase))
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return strings.Join(words, `\s+`)
}

// Matches returns the first matching rule. Jailbreak rules are always tried first.
func (f *HeuristicFilter) Matches(text string) (Match, bool) {
	normalized := normalizeText(text)
	if normalized == "" {
		return Match{}, false
	}
	for _, set := range [][]Rule{f.jailbreak, f.abuse} {
		for _, rule := range set {
			if loc := rule.Pattern.FindStringIndex(normalized); loc != nil {
				return Match{
					Kind:     rule.Kind,
					Rule:     rule.Name,
					Fragment: normalized[loc[0]:loc[1]],
				}, true
			}
		}
	}
	return Match{}, false
}

// normalizeText lowercases, strips diacritics and folds Cyrillic lookalikes, so "Actúa como"
// and "actua como" compare equal and "ѕсаm" reads as "scam".
func normalizeText(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, text)
	if err != nil {
		stripped = text
	}
	return strings.ToLower(vtext.FoldLookalikes(strings.TrimSpace(stripped)))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
