package oracle

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/mbd888/payroute/internal/payment"
	"github.com/mbd888/payroute/internal/registry"
)

// Ranking is a processor's composite score for the prompt and the
// heuristic backend. Higher is better.
type Ranking struct {
	Record     registry.ProcessorRecord
	Assessment registry.RiskAssessment
	Composite  float64
}

// CompositeScore averages success, speed and freeze-risk scores on a 0-100
// scale.
func CompositeScore(rec registry.ProcessorRecord) float64 {
	success := rec.Metrics.SuccessRate * 100
	speed := math.Max(0, 100-rec.Metrics.AvgResponseTimeMs/30)
	risk := math.Max(0, 100-rec.Metrics.FreezeRiskScore*10)
	return (success + speed + risk) / 3
}

// Rank scores the usable processors not in failed, best first. Ties keep
// registration order.
func Rank(snap registry.Snapshot, tx payment.Transaction, failed map[string]struct{}) []Ranking {
	usable := snap.Usable(failed)
	out := make([]Ranking, 0, len(usable))
	for _, rec := range usable {
		out = append(out, Ranking{
			Record:     rec,
			Assessment: registry.Assess(rec, tx),
			Composite:  CompositeScore(rec),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Composite > out[j].Composite })
	return out
}

var effortInstructions = map[payment.Effort]string{
	payment.EffortMinimal: `REASONING MODE: MINIMAL
- Make a quick decision based on obvious factors
- Use simple heuristics (lowest cost, highest success rate)`,
	payment.EffortLow: `REASONING MODE: LOW
- Consider basic factors: cost, reliability, availability
- Brief reasoning is sufficient`,
	payment.EffortMedium: `REASONING MODE: MEDIUM
- Analyze multiple factors systematically
- Consider interactions between cost, risk and reliability
- Evaluate alternatives and trade-offs`,
	payment.EffortHigh: `REASONING MODE: HIGH
- Deep analysis of all factors and their interactions
- Consider edge cases and failure scenarios, including why earlier processors failed
- Thorough evaluation of every alternative`,
}

var verbosityInstructions = map[payment.Verbosity]string{
	payment.VerbosityLow:    "VERBOSITY: LOW - Provide a concise decision with essential reasoning only.",
	payment.VerbosityMedium: "VERBOSITY: MEDIUM - Provide a clear decision with key reasoning points and alternatives.",
	payment.VerbosityHigh: `VERBOSITY: HIGH - Provide a comprehensive decision with:
- Step-by-step reasoning
- Factor analysis and trade-offs
- Risk assessment with mitigations
- Alternatives considered and why they were rejected
- A full audit trail suitable for compliance review`,
}

// PromptBuilder renders prompts for the reasoning backend.
type PromptBuilder struct {
	// JSON asks for a structured answer instead of labelled text.
	JSON bool
}

// Build renders the prompt for req.
func (b PromptBuilder) Build(req Request) Prompt {
	return Prompt{
		System:    b.system(req.Effort, req.Verbosity),
		User:      b.user(req),
		Effort:    req.Effort,
		Verbosity: req.Verbosity,
		MaxTokens: req.Verbosity.MaxTokens(),
		Input:     req,
	}
}

func (b PromptBuilder) system(effort payment.Effort, verbosity payment.Verbosity) string {
	var sb strings.Builder
	sb.WriteString("You are a payment orchestration system. You analyze payment contexts and choose the processor most likely to complete the payment.\n\n")
	sb.WriteString(effortInstructions[effort])
	sb.WriteString("\n\n")
	sb.WriteString(verbosityInstructions[verbosity])
	return sb.String()
}

func (b PromptBuilder) user(req Request) string {
	rc := req.Context
	tx := rc.Transaction
	failed := rc.FailedSet()

	var sb strings.Builder
	sb.WriteString("PAYMENT ROUTING DECISION REQUIRED\n\n")
	fmt.Fprintf(&sb, "Transaction:\n- ID: %s\n- Amount: %s %s\n- Merchant: %s\n", tx.ID, tx.Amount.StringFixed(2), tx.Currency, tx.MerchantID)
	if tx.Description != "" {
		fmt.Fprintf(&sb, "- Description: %s\n", tx.Description)
	}
	indicators := tx.Indicators()
	names := make([]string, 0, len(indicators))
	for name := range indicators {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&sb, "- Risk indicator %s: %.2f\n", name, indicators[name])
	}

	fmt.Fprintf(&sb, "\nRouting context:\n- Business priority: %s\n- Urgency: %s\n- Decision type: %s\n- Attempt: %d of %d\n",
		rc.Priority, rc.Urgency, req.Type, rc.AttemptCount+1, rc.MaxAttempts)
	if len(rc.Failed) == 0 {
		sb.WriteString("- Failed processors: none\n")
	} else {
		fmt.Fprintf(&sb, "- Failed processors (do not select): %s\n", strings.Join(rc.Failed, ", "))
	}

	sb.WriteString("\nAvailable processors:\n")
	for _, r := range Rank(req.Snapshot, tx, failed) {
		rec := r.Record
		fmt.Fprintf(&sb, "- %s (%s): status %s, success rate %.1f%%, avg response %.0fms, freeze risk %.1f/10, est. fee %s, composite %.1f, %s\n",
			rec.ID, rec.Name, rec.Status, rec.Metrics.SuccessRate*100, rec.Metrics.AvgResponseTimeMs,
			rec.Metrics.FreezeRiskScore, r.Assessment.EstimatedFee.StringFixed(2), r.Composite, r.Assessment.Recommendation)
		if req.Effort >= payment.EffortMedium && len(r.Assessment.Concerns) > 0 {
			fmt.Fprintf(&sb, "  concerns: %s\n", strings.Join(r.Assessment.Concerns, "; "))
		}
	}

	if req.Effort >= payment.EffortMedium {
		sb.WriteString("\nANALYSIS REQUIREMENTS:\n- Evaluate each available processor systematically\n- Assess success probability for each option\n- Identify risks and mitigations\n")
	}

	if b.JSON {
		sb.WriteString("\nRespond with a single JSON object: {\"processor\": \"<id>\", \"confidence\": <0..1>, \"rationale\": \"<text>\"}\n")
		return sb.String()
	}

	sb.WriteString("\nRESPONSE FORMAT:\nSELECTED PROCESSOR: <id>\nCONFIDENCE: <0..1>\n")
	switch req.Verbosity {
	case payment.VerbosityHigh:
		sb.WriteString("Then step-by-step reasoning, factor analysis, alternatives rejected, and risk assessment.\n")
	case payment.VerbosityMedium:
		sb.WriteString("Then key reasoning points and a brief risk assessment.\n")
	default:
		sb.WriteString("Then one or two sentences of reasoning.\n")
	}
	return sb.String()
}
