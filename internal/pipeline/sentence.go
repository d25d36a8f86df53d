package pipeline

import "strings"

// SplitSentences splits text into sentences for incremental synthesis, so
// streaming clients hear audio before the full text has been rendered.
func SplitSentences(text string) []string {
	var sentences []string
	rest := strings.TrimSpace(text)
	for rest != "" {
		sentence, remainder := splitFirstSentence(rest)
		sentences = append(sentences, sentence)
		rest = strings.TrimSpace(remainder)
	}
	return sentences
}

var sentenceEnders = map[byte]bool{'.': true, '!': true, '?': true}

// splitFirstSentence cuts text at the first sentence boundary: an ender (.!?)
// followed by whitespace. Without a boundary the whole text is one sentence.
func splitFirstSentence(text string) (string, string) {
	for i := 0; i+1 < len(text); i++ {
		if sentenceEnders[text[i]] && isWordBoundary(text[i+1]) {
			return strings.TrimSpace(text[:i+1]), text[i+1:]
		}
	}
	return text, ""
}

func isWordBoundary(ch byte) bool {
	return ch == ' ' || ch == '\n' || ch == '\t'
}
