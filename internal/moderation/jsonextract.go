package moderation

import (
	"encoding/json"
	"regexp"
	"strings"
)

var greedyObject = regexp.MustCompile(`(?s)\{.*\}`)

// firstObject returns the first balanced top-level {...} span, skipping braces inside JSON strings.
func firstObject(s string) (string, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		if end, ok := matchBrace(s, start); ok {
			return s[start : end+1], true
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchBrace(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

type rawClassification struct {
	Risk     string `json:"risk"`
	Category string `json:"category"`
	Reason   string `json:"reason"`
}

// parseClassification pulls the verdict object out of free-form oracle output.
func parseClassification(content string) (Classification, bool) {
	candidates := make([]string, 0, 2)
	if obj, ok := firstObject(content); ok {
		candidates = append(candidates, obj)
	}
	if obj := greedyObject.FindString(content); obj != "" {
		candidates = append(candidates, obj)
	}

	for _, candidate := range candidates {
		var raw rawClassification
		if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
			continue
		}
		risk, ok := normalizeRisk(raw.Risk)
		if !ok {
			continue
		}
		category := strings.ToUpper(strings.TrimSpace(raw.Category))
		if category == "" {
			category = "UNKNOWN"
		}
		return Classification{
			Risk:     risk,
			Category: category,
			Reason:   strings.TrimSpace(raw.Reason),
		}, true
	}
	return Classification{}, false
}

func normalizeRisk(value string) (Risk, bool) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "HIGH":
		return RiskHigh, true
	case "MED", "MEDIUM":
		return RiskMed, true
	case "LOW":
		return RiskLow, true
	}
	return "", false
}
