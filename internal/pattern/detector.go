// Package pattern fans detectors out over a customer timeline and
// merges their signals into a ranked, filtered result set.
package pattern

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/diamondhholdings-hub/agent-army-sub001/internal/domain"
)

// Detector is one pluggable signal source. Implementations are
// registered on the engine at construction; they must tolerate empty
// timelines and return an empty slice rather than an error for
// "no signal".
type Detector interface {
	Name() string
	Detect(ctx context.Context, view domain.CustomerView) ([]domain.PatternMatch, error)
}

// Message is one turn of a text-generation exchange.
type Message struct {
	Role    string
	Content string
}

// Completer is the optional text-generation port used by detectors to
// surface non-obvious signals. A nil Completer disables enhancement.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// enhanceable marks detectors whose evidence can be refined by a
// completer wired in after construction.
type enhanceable interface {
	setCompleter(Completer)
}

// interactionText is the searchable text of one interaction, lowered
// once for keyword scans.
func interactionText(in domain.Interaction) string {
	parts := make([]string, 0, 1+len(in.KeyPoints))
	parts = append(parts, in.ContentSummary)
	parts = append(parts, in.KeyPoints...)
	return strings.ToLower(strings.Join(parts, " "))
}

// containsAny reports whether text matches any keyword of a class.
func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// splitHalves splits a chronological timeline into earlier and later
// halves. The later half gets the middle element on odd lengths.
func splitHalves(timeline []domain.Interaction) (earlier, later []domain.Interaction) {
	mid := len(timeline) / 2
	return timeline[:mid], timeline[mid:]
}

func uniqueParticipants(interactions []domain.Interaction) map[string]bool {
	set := map[string]bool{}
	for _, in := range interactions {
		for _, p := range in.Participants {
			set[strings.ToLower(strings.TrimSpace(p))] = true
		}
	}
	delete(set, "")
	return set
}

// evidencePrefixLen bounds prefix comparison when deduplicating
// enhancement output against rule-based evidence.
const evidencePrefixLen = 24

func evidencePrefix(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) > evidencePrefixLen {
		s = s[:evidencePrefixLen]
	}
	return s
}

// enhanceEvidence asks the text-generation port for additional evidence
// over the most recent interactions and merges it into existing
// evidence, dropping lines whose prefix overlaps what the rules already
// found. Errors disable enhancement for this call only.
func enhanceEvidence(ctx context.Context, llm Completer, detector string, prompt string, timeline []domain.Interaction, existing []string) []string {
	if llm == nil || len(timeline) == 0 {
		return nil
	}
	recent := timeline
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	var b strings.Builder
	for _, in := range recent {
		fmt.Fprintf(&b, "- [%s via %s] %s\n", in.Timestamp.Format("2006-01-02"), in.Channel, in.ContentSummary)
	}
	out, err := llm.Complete(ctx, []Message{
		{Role: "system", Content: prompt},
		{Role: "user", Content: b.String()},
	})
	if err != nil {
		log.Printf("pattern: %s enhancement failed: %v", detector, err)
		return nil
	}
	seen := map[string]bool{}
	for _, ev := range existing {
		seen[evidencePrefix(ev)] = true
	}
	var extra []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-* "))
		if line == "" {
			continue
		}
		p := evidencePrefix(line)
		if seen[p] {
			continue
		}
		seen[p] = true
		extra = append(extra, line)
	}
	return extra
}
