package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mbd888/payroute/internal/payment"
)

// Heuristic is a local Oracle that ranks candidates by business priority
// and answers in the same format a remote backend would. It runs without
// credentials and is what demo mode and tests use.
type Heuristic struct {
	// JSON answers with a JSON object instead of labelled text.
	JSON bool
}

func (Heuristic) Name() string { return "heuristic" }

func (h Heuristic) Complete(ctx context.Context, p Prompt) (Completion, error) {
	if err := ctx.Err(); err != nil {
		return Completion{}, err
	}
	req := p.Input
	rc := req.Context
	ranked := Rank(req.Snapshot, rc.Transaction, rc.FailedSet())
	if len(ranked) == 0 {
		return Completion{}, fmt.Errorf("%w: no usable processor", ErrInvalidSelection)
	}

	// Capable candidates first, then the priority's own ordering.
	sort.SliceStable(ranked, func(i, j int) bool {
		ci := ranked[i].Record.Capabilities.Supports(rc.Transaction)
		cj := ranked[j].Record.Capabilities.Supports(rc.Transaction)
		if ci != cj {
			return ci
		}
		return priorityLess(rc.Priority, ranked[i], ranked[j])
	})

	best := ranked[0]
	confidence := clamp01(best.Record.Metrics.SuccessRate - best.Assessment.Score/20)
	steps := h.reasoning(p, ranked)

	var text string
	if h.JSON {
		b, err := json.Marshal(map[string]any{
			"processor":  best.Record.ID,
			"confidence": confidence,
			"rationale":  strings.Join(steps, "\n"),
			"reasoning":  steps,
		})
		if err != nil {
			return Completion{}, err
		}
		text = string(b)
	} else {
		text = fmt.Sprintf("SELECTED PROCESSOR: %s\nCONFIDENCE: %.2f\n%s", best.Record.ID, confidence, strings.Join(steps, "\n"))
	}

	prompt := len(p.System+p.User) / 4
	completion := len(text) / 4
	return Completion{
		Text:  text,
		Usage: payment.Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion},
	}, nil
}

func priorityLess(p payment.BusinessPriority, a, b Ranking) bool {
	ra, rb := a.Record, b.Record
	switch p {
	case payment.PriorityCost:
		if !a.Assessment.EstimatedFee.Equal(b.Assessment.EstimatedFee) {
			return a.Assessment.EstimatedFee.LessThan(b.Assessment.EstimatedFee)
		}
	case payment.PrioritySpeed:
		if ra.Metrics.AvgResponseTimeMs != rb.Metrics.AvgResponseTimeMs {
			return ra.Metrics.AvgResponseTimeMs < rb.Metrics.AvgResponseTimeMs
		}
	case payment.PriorityRiskMinimization, payment.PriorityCompliance:
		if a.Assessment.Score != b.Assessment.Score {
			return a.Assessment.Score < b.Assessment.Score
		}
		if ra.Metrics.FreezeRiskScore != rb.Metrics.FreezeRiskScore {
			return ra.Metrics.FreezeRiskScore < rb.Metrics.FreezeRiskScore
		}
	default:
		if ra.Metrics.SuccessRate != rb.Metrics.SuccessRate {
			return ra.Metrics.SuccessRate > rb.Metrics.SuccessRate
		}
	}
	return a.Composite > b.Composite
}

// reasoning writes more steps for higher verbosity and effort.
func (h Heuristic) reasoning(p Prompt, ranked []Ranking) []string {
	rc := p.Input.Context
	best := ranked[0]
	steps := []string{
		fmt.Sprintf("Analysis: optimizing for %s at %s urgency; %s has fee %s, success rate %.1f%%, %.0fms response.",
			rc.Priority, rc.Urgency, best.Record.ID, best.Assessment.EstimatedFee.StringFixed(2),
			best.Record.Metrics.SuccessRate*100, best.Record.Metrics.AvgResponseTimeMs),
	}
	if p.Verbosity == payment.VerbosityLow {
		return steps
	}

	if len(rc.Failed) > 0 {
		steps = append(steps, fmt.Sprintf("Because %s already failed, they are excluded from this attempt.", strings.Join(rc.Failed, ", ")))
	}
	if len(best.Assessment.Concerns) > 0 {
		steps = append(steps, "Risk analysis: "+strings.Join(best.Assessment.Concerns, "; ")+".")
	} else {
		steps = append(steps, fmt.Sprintf("Risk analysis: no concerns, freeze risk %.1f/10.", best.Record.Metrics.FreezeRiskScore))
	}
	if p.Verbosity == payment.VerbosityMedium && p.Effort < payment.EffortHigh {
		return steps
	}

	for _, alt := range ranked[1:] {
		steps = append(steps, fmt.Sprintf("Step: alternative %s rejected (fee %s, success rate %.1f%%, composite %.1f, %s).",
			alt.Record.ID, alt.Assessment.EstimatedFee.StringFixed(2), alt.Record.Metrics.SuccessRate*100,
			alt.Composite, alt.Assessment.Recommendation))
	}
	steps = append(steps, fmt.Sprintf("Therefore route to %s; remaining fallbacks in order of preference follow the registry chain.", best.Record.ID))
	return steps
}
