package text

import "strings"

// latinLookalikes maps Cyrillic letters to the Latin letters they are drawn like.
var latinLookalikes = map[rune]rune{
	'а': 'a', 'в': 'b', 'е': 'e', 'ё': 'e', 'к': 'k', 'м': 'm', 'н': 'h', 'о': 'o',
	'р': 'p', 'с': 'c', 'т': 't', 'у': 'y', 'х': 'x', 'ѕ': 's', 'і': 'i', 'ј': 'j',
	'А': 'A', 'В': 'B', 'Е': 'E', 'Ё': 'E', 'К': 'K', 'М': 'M', 'Н': 'H', 'О': 'O',
	'Р': 'P', 'С': 'C', 'Т': 'T', 'У': 'Y', 'Х': 'X', 'Ѕ': 'S', 'І': 'I', 'Ј': 'J',
}

// HasCyrillics checks if the given string contains any Cyrillic characters
func HasCyrillics(content string) bool {
	for _, r := range content {
		if r >= 0x0400 && r <= 0x04FF {
			return true
		}
	}
	return false
}

// HasLatin reports whether content contains any ASCII letter.
func HasLatin(content string) bool {
	for _, r := range content {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' {
			return true
		}
	}
	return false
}

// FoldLookalikes rewrites Cyrillic letters that look Latin into their Latin twins.
// A word is rewritten when it mixes both scripts or consists of lookalikes only;
// other Cyrillic words are left alone. Runs of whitespace collapse to one space.
func FoldLookalikes(content string) string {
	if !HasCyrillics(content) {
		return content
	}
	words := strings.Fields(content)
	for i, word := range words {
		if !HasCyrillics(word) {
			continue
		}
		folded := strings.Map(func(r rune) rune {
			if l, ok := latinLookalikes[r]; ok {
				return l
			}
			return r
		}, word)
		if HasLatin(word) || !HasCyrillics(folded) {
			words[i] = folded
		}
	}
	return strings.Join(words, " ")
}
