package pattern

import (
	"context"
	"log"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/diamondhholdings-hub/agent-army-sub001/internal/config"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/domain"
)

// Engine runs all registered detectors concurrently and reduces their
// output. Detectors are fixed at construction; the confidence threshold
// and the evidence completer are the runtime knobs.
type Engine struct {
	detectors   []Detector
	minEvidence int

	mu        sync.Mutex
	threshold float64
}

// NewEngine builds an engine from config plus an explicit detector
// list. Detector order only affects tie-breaks among equal severity and
// confidence.
func NewEngine(cfg *config.Config, detectors ...Detector) *Engine {
	return &Engine{
		detectors:   detectors,
		minEvidence: cfg.MinEvidenceCount(),
		threshold:   cfg.ConfidenceThreshold(),
	}
}

// SetCompleter hands the text-generation port to every detector that
// can use it for evidence enhancement. A nil completer turns
// enhancement off again.
func (e *Engine) SetCompleter(c Completer) {
	for _, d := range e.detectors {
		if aware, ok := d.(enhanceable); ok {
			aware.setCompleter(c)
		}
	}
}

// ConfidenceThreshold returns the current filter threshold.
func (e *Engine) ConfidenceThreshold() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.threshold
}

// UpdateConfidenceThreshold sets the filter threshold, clamped to the
// allowed range, and returns the value actually applied. Last writer
// wins under concurrent updates.
func (e *Engine) UpdateConfidenceThreshold(v float64) float64 {
	if v < config.MinConfidenceThreshold {
		v = config.MinConfidenceThreshold
	}
	if v > config.MaxConfidenceThreshold {
		v = config.MaxConfidenceThreshold
	}
	e.mu.Lock()
	e.threshold = v
	e.mu.Unlock()
	return v
}

// DetectPatterns runs every detector against the view and joins on all
// of them. A detector that errors or panics is logged and excluded; it
// never aborts its siblings. Output is filtered by confidence and
// evidence count, then sorted by severity and confidence descending.
func (e *Engine) DetectPatterns(ctx context.Context, view domain.CustomerView) []domain.PatternMatch {
	threshold := e.ConfidenceThreshold()
	results := make([][]domain.PatternMatch, len(e.detectors))

	var g errgroup.Group
	for i, d := range e.detectors {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("pattern: detector %s panicked: %v", d.Name(), r)
				}
			}()
			out, err := d.Detect(ctx, view)
			if err != nil {
				log.Printf("pattern: detector %s failed: %v", d.Name(), err)
				return nil
			}
			results[i] = out
			return nil
		})
	}
	_ = g.Wait()

	var merged []domain.PatternMatch
	for _, out := range results {
		for _, m := range out {
			if m.AccountID == "" {
				m.AccountID = view.AccountID
			}
			if m.Confidence < threshold {
				continue
			}
			if len(m.Evidence) < e.minEvidence {
				continue
			}
			merged = append(merged, m)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		ri, rj := domain.SeverityRank(merged[i].Severity), domain.SeverityRank(merged[j].Severity)
		if ri != rj {
			return ri > rj
		}
		return merged[i].Confidence > merged[j].Confidence
	})
	return merged
}
