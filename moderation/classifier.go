// Package moderation decides whether outgoing message text must be flagged.
package moderation

import (
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync/atomic"
	"unicode"

	"chat-relay/domain"
	"chat-relay/errors"

	"github.com/abadojack/whatlanggo"
	goahocorasick "github.com/anknown/ahocorasick"
)

// Classifier matches text against the active policy terms.
// The automaton is swapped atomically on Reload, so Classify never blocks.
type Classifier struct {
	current      atomic.Pointer[matcher]
	censoredChar rune
	log          *slog.Logger
}

type matcher struct {
	machine *goahocorasick.Machine
	// display maps a normalized pattern back to the term as configured.
	display  map[string]string
	high     map[string]struct{}
	leetMode bool
}

type TextMapping struct {
	Normalized []rune
	OrigIdx    []int
}

// NewClassifier builds the Aho-Corasick automaton for the given policy.
func NewClassifier(policy Policy, censoredChar rune, log *slog.Logger) (*Classifier, error) {
	c := &Classifier{censoredChar: censoredChar, log: log}
	if err := c.Reload(policy); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload replaces the term list. On error the previous automaton stays active.
func (c *Classifier) Reload(policy Policy) error {
	m, err := buildMatcher(policy)
	if err != nil {
		return err
	}
	c.current.Store(m)
	c.log.Info("Moderation policy loaded",
		"terms", len(m.display),
		"high_severity", len(m.high),
		"normalize_leet", m.leetMode)
	return nil
}

func buildMatcher(policy Policy) (*matcher, error) {
	m := &matcher{
		display:  make(map[string]string),
		high:     make(map[string]struct{}),
		leetMode: policy.NormalizeLeet,
	}

	add := func(term string, high bool) {
		normalized := string(m.normalizeRunes([]rune(term)))
		if normalized == "" {
			return
		}
		if _, ok := m.display[normalized]; !ok {
			m.display[normalized] = strings.TrimSpace(term)
		}
		if high {
			m.high[normalized] = struct{}{}
		}
	}
	for _, term := range policy.Terms {
		add(term, false)
	}
	for _, term := range policy.HighSeverity {
		add(term, true)
	}
	if len(m.display) == 0 {
		return nil, errors.ErrEmptyTerms
	}

	keys := make([]string, 0, len(m.display))
	for k := range m.display {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	patterns := make([][]rune, len(keys))
	for i, k := range keys {
		patterns[i] = []rune(k)
	}

	machine := new(goahocorasick.Machine)
	if err := machine.Build(patterns); err != nil {
		return nil, err
	}
	m.machine = machine
	return m, nil
}

// Classify reports which terms occur in text, each once, in order of first occurrence.
func (c *Classifier) Classify(text string) domain.Classification {
	m := c.current.Load()
	result := domain.Classification{Severity: domain.SeverityNone, Lang: detectLang(text)}

	mapping := m.normalize(text)
	if len(mapping.Normalized) == 0 {
		return result
	}
	spans := m.machine.MultiPatternSearch(mapping.Normalized, false)
	if len(spans) == 0 {
		return result
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].Pos < spans[j].Pos })

	seen := make(map[string]struct{}, len(spans))
	for _, span := range spans {
		word := string(span.Word)
		if _, ok := seen[word]; ok {
			continue
		}
		seen[word] = struct{}{}
		result.MatchedTerms = append(result.MatchedTerms, m.display[word])
		if _, ok := m.high[word]; ok {
			result.Severity = domain.SeverityHigh
		} else if result.Severity == domain.SeverityNone {
			result.Severity = domain.SeverityLow
		}
	}
	result.Flagged = true
	return result
}

// Censor replaces every matched span with the censored rune while preserving spacing.
func (c *Classifier) Censor(original string) string {
	m := c.current.Load()
	mapping := m.normalize(original)
	if len(mapping.Normalized) == 0 {
		return original
	}

	spans := m.machine.MultiPatternSearch(mapping.Normalized, false)
	if len(spans) == 0 {
		return original
	}

	origRunes := []rune(original)
	for _, span := range spans {
		normStart := span.Pos
		normEnd := normStart + len(span.Word)

		if normStart < 0 || normEnd > len(mapping.OrigIdx) {
			continue
		}

		origStart := mapping.OrigIdx[normStart]
		origEnd := mapping.OrigIdx[normEnd-1] + 1

		for i := origStart; i < origEnd; i++ {
			origRunes[i] = c.censoredChar
		}
	}
	return string(origRunes)
}

// Terms returns the active terms as configured, sorted.
func (c *Classifier) Terms() []string {
	m := c.current.Load()
	out := make([]string, 0, len(m.display))
	for _, t := range m.display {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// normalize lowercases the input and, in leet mode, drops noise characters,
// tracking the original rune position of every kept rune.
func (m *matcher) normalize(input string) TextMapping {
	origRunes := []rune(input)
	norm := make([]rune, 0, len(origRunes))
	origIdx := make([]int, 0, len(origRunes))

	for i, r := range origRunes {
		clean, keep := m.fold(r)
		if !keep {
			continue
		}
		norm = append(norm, clean)
		origIdx = append(origIdx, i)
	}
	return TextMapping{Normalized: norm, OrigIdx: origIdx}
}

func (m *matcher) normalizeRunes(input []rune) []rune {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if clean, keep := m.fold(r); keep {
			out = append(out, clean)
		}
	}
	if !m.leetMode {
		return []rune(strings.TrimSpace(string(out)))
	}
	return out
}

func (m *matcher) fold(r rune) (rune, bool) {
	if !m.leetMode {
		return unicode.ToLower(r), true
	}
	clean := simplifyRune(r)
	if isNoise(clean) {
		return 0, false
	}
	return unicode.ToLower(clean), true
}

// simplifyRune maps common leet speak characters back to their standard alphabet counterparts.
func simplifyRune(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}

func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}

func detectLang(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}
