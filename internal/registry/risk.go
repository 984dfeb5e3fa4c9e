package registry

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/mbd888/payroute/internal/payment"
)

// RiskFactor is one reason a processor is risky for a given transaction.
type RiskFactor string

const (
	RiskAccountFrozen    RiskFactor = "account_frozen"
	RiskMaintenance      RiskFactor = "maintenance"
	RiskLowSuccessRate   RiskFactor = "low_success_rate"
	RiskHighFailureCount RiskFactor = "high_failure_count"
	RiskExceedsLimits    RiskFactor = "exceeds_limits"
	RiskUnsupported      RiskFactor = "unsupported_currency"
	RiskSlowResponse     RiskFactor = "slow_response"
)

var riskWeights = map[RiskFactor]float64{
	RiskAccountFrozen:    10,
	RiskMaintenance:      10,
	RiskLowSuccessRate:   3,
	RiskHighFailureCount: 2,
	RiskExceedsLimits:    5,
	RiskUnsupported:      5,
	RiskSlowResponse:     1,
}

var riskConcerns = map[RiskFactor]string{
	RiskAccountFrozen:    "account is frozen and cannot process payments",
	RiskMaintenance:      "processor is in scheduled maintenance",
	RiskLowSuccessRate:   "success rate below normal, higher chance of failure",
	RiskHighFailureCount: "unusual number of failures in the last 24h",
	RiskExceedsLimits:    "amount is outside the processor's limits",
	RiskUnsupported:      "currency is not supported",
	RiskSlowResponse:     "response times degraded, timeouts likely",
}

// Recommendation summarizes an assessment.
type Recommendation string

const (
	RecommendHighly  Recommendation = "highly_recommended"
	Recommend        Recommendation = "recommended"
	RecommendCaution Recommendation = "caution"
	RecommendAgainst Recommendation = "not_recommended"
)

// Thresholds used by Assess.
const (
	lowSuccessRate   = 0.95
	highFailureCount = 10
	slowResponseMs   = 500
	recommendedBelow = 3.0
)

// RiskAssessment is a processor's risk for one transaction.
type RiskAssessment struct {
	ProcessorID    string          `json:"processorId"`
	Score          float64         `json:"score"` // 0..10
	Factors        []RiskFactor    `json:"factors"`
	Concerns       []string        `json:"concerns"`
	Recommended    bool            `json:"recommended"`
	Recommendation Recommendation  `json:"recommendation"`
	EstimatedFee   decimal.Decimal `json:"estimatedFee"`
}

// Assess scores rec against tx.
func Assess(rec ProcessorRecord, tx payment.Transaction) RiskAssessment {
	var factors []RiskFactor
	switch rec.Status {
	case StatusFrozen:
		factors = append(factors, RiskAccountFrozen)
	case StatusMaintenance:
		factors = append(factors, RiskMaintenance)
	}
	if rec.Metrics.SuccessRate < lowSuccessRate {
		factors = append(factors, RiskLowSuccessRate)
	}
	if rec.Metrics.FailureCount24h > highFailureCount {
		factors = append(factors, RiskHighFailureCount)
	}
	if !rec.Capabilities.WithinLimits(tx.Amount) {
		factors = append(factors, RiskExceedsLimits)
	}
	if !rec.Capabilities.SupportsCurrency(tx.Currency) {
		factors = append(factors, RiskUnsupported)
	}
	if rec.Metrics.AvgResponseTimeMs > slowResponseMs {
		factors = append(factors, RiskSlowResponse)
	}

	score := 0.0
	concerns := make([]string, 0, len(factors))
	for _, f := range factors {
		score += riskWeights[f]
		concerns = append(concerns, riskConcerns[f])
	}
	score = math.Min(score, 10)

	return RiskAssessment{
		ProcessorID:    rec.ID,
		Score:          score,
		Factors:        factors,
		Concerns:       concerns,
		Recommended:    score < recommendedBelow,
		Recommendation: worse(recommend(rec), recommendForScore(score)),
		EstimatedFee:   rec.Fees.Estimate(tx.Amount),
	}
}

// recommendForScore labels a risk score. Exceeding limits or lacking the
// currency scores 5 and lands in not_recommended.
func recommendForScore(score float64) Recommendation {
	switch {
	case score >= 5:
		return RecommendAgainst
	case score >= recommendedBelow:
		return RecommendCaution
	default:
		return RecommendHighly
	}
}

var recommendationRank = map[Recommendation]int{
	RecommendHighly:  0,
	Recommend:        1,
	RecommendCaution: 2,
	RecommendAgainst: 3,
}

func worse(a, b Recommendation) Recommendation {
	if recommendationRank[b] > recommendationRank[a] {
		return b
	}
	return a
}

func recommend(rec ProcessorRecord) Recommendation {
	switch {
	case !rec.Status.Routable():
		return RecommendAgainst
	case rec.Metrics.SuccessRate > 0.99 && rec.Metrics.FreezeRiskScore < 2:
		return RecommendHighly
	case rec.Metrics.SuccessRate > lowSuccessRate:
		return Recommend
	default:
		return RecommendCaution
	}
}
