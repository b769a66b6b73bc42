package hub

import (
	"regexp"

	"github.com/fenggwsx/SlashHub/internal/storage"
)

var mentionPattern = regexp.MustCompile(`@(\w+)`)

// ExtractMentions returns every @name token in text with its byte offset.
func ExtractMentions(text string) []storage.Mention {
	matches := mentionPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]storage.Mention, 0, len(matches))
	for _, m := range matches {
		out = append(out, storage.Mention{Username: text[m[2]:m[3]], Index: m[0]})
	}
	return out
}
