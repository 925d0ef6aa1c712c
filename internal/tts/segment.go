// Package tts turns finalized response text into paced 20ms audio frames:
// a segmenter cuts the text at sentence boundaries, a consumer synthesizes
// each segment, normalizes the audio to the pipeline format, and emits
// ordered frames to the transport.
package tts

import (
	"strings"
	"unicode"
)

// Segmenter tuning. Token counts use the ~4 characters per token
// approximation shared with the conversation budget.
const (
	minSegmentTokens = 15
	maxSegmentTokens = 25
	charsPerToken    = 4
)

// terminators end a sentence for segmentation purposes.
const terminators = ".!?;\n"

// Segment splits text into synthesis-sized chunks: whole sentences
// packed up to maxSentences or the token ceiling, whichever comes first.
// A sentence longer than the ceiling is split at the last whitespace
// before it, or hard if it has none.
func Segment(text string, maxSentences int) []string {
	if maxSentences <= 0 {
		maxSentences = 2
	}
	maxChars := maxSegmentTokens * charsPerToken
	minChars := minSegmentTokens * charsPerToken

	var segments []string
	var current strings.Builder
	sentences := 0

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			segments = append(segments, s)
		}
		current.Reset()
		sentences = 0
	}

	for _, sentence := range splitSentences(text) {
		for len(sentence) > maxChars {
			head, rest := splitAt(sentence, maxChars)
			if current.Len() > 0 {
				flush()
			}
			segments = append(segments, strings.TrimSpace(head))
			sentence = rest
		}
		if current.Len() > 0 && current.Len()+1+len(sentence) > maxChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
		sentences++
		if sentences >= maxSentences || current.Len() >= minChars {
			flush()
		}
	}
	flush()
	return segments
}

// splitSentences cuts text at terminator runes, keeping the terminator
// with its sentence.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if strings.ContainsRune(terminators, r) {
			if s := strings.TrimSpace(text[start : i+len(string(r))]); s != "" {
				out = append(out, s)
			}
			start = i + len(string(r))
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// splitAt cuts s near limit, preferring the last whitespace before it.
func splitAt(s string, limit int) (head, rest string) {
	cut := limit
	for i := limit; i > 0; i-- {
		if unicode.IsSpace(rune(s[i-1])) {
			cut = i
			break
		}
	}
	return s[:cut], strings.TrimSpace(s[cut:])
}
