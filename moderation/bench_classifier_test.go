package moderation

import (
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

func BenchmarkClassifier_Classify(b *testing.B) {
	words := make([]string, 0, 100_000)
	for i := 0; i < 100_000; i++ {
		words = append(words, fmt.Sprintf("word_%d", i))
	}
	c, err := NewClassifier(Policy{Terms: words}, '*', slog.Default())
	if err != nil {
		b.Fatal(err)
	}
	text := strings.Repeat("a perfectly ordinary sentence with word_42 inside ", 20)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Classify(text)
	}
}
