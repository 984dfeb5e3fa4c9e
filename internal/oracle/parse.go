package oracle

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// defaultConfidence is used when the output states none.
const defaultConfidence = 0.75

const maxReasoningSteps = 15

// Parsed is what a Parser extracted from a completion.
type Parsed struct {
	Processor  string
	Confidence float64
	Rationale  string
	Reasoning  []string
}

// Parser extracts a selection from raw backend output. candidates are the
// processor ids the output may mention.
type Parser interface {
	Parse(text string, candidates []string) (Parsed, error)
}

// NewParser returns the parser for an output format: "json" or "text".
func NewParser(format string) (Parser, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return TextParser{}, nil
	case "json":
		return JSONParser{}, nil
	default:
		return nil, fmt.Errorf("oracle: unknown output format %q", format)
	}
}

var (
	selectedRe     = regexp.MustCompile(`(?i)selected[ _]processor\**:?\**\s*["'` + "`" + `]?([\w-]+)`)
	confidenceRe   = regexp.MustCompile(`(?i)confidence(?:\s+level)?\**:?\**\s*(\d*\.?\d+)\s*(%?)`)
	pctConfidence  = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)%\s*confidence`)
	stepIndicators = []string{"step", "first", "second", "third", "because", "therefore", "analysis"}
)

var confidenceKeywords = []struct {
	phrase string
	value  float64
}{
	{"high confidence", 0.9},
	{"medium confidence", 0.7},
	{"moderate confidence", 0.7},
	{"low confidence", 0.5},
}

// TextParser reads labelled free text: "SELECTED PROCESSOR: <id>" first,
// otherwise the earliest mentioned candidate.
type TextParser struct{}

func (TextParser) Parse(text string, candidates []string) (Parsed, error) {
	if strings.TrimSpace(text) == "" {
		return Parsed{}, ErrEmptyCompletion
	}

	processor := ""
	if m := selectedRe.FindStringSubmatch(text); m != nil {
		processor = matchCandidate(m[1], candidates)
	}
	if processor == "" {
		processor = firstMentioned(text, candidates)
	}
	if processor == "" {
		return Parsed{}, ErrNoProcessor
	}

	return Parsed{
		Processor:  processor,
		Confidence: extractConfidence(text),
		Rationale:  strings.TrimSpace(text),
		Reasoning:  reasoningSteps(text),
	}, nil
}

func matchCandidate(word string, candidates []string) string {
	for _, c := range candidates {
		if strings.EqualFold(c, word) {
			return c
		}
	}
	return ""
}

// firstMentioned returns the candidate whose first whole-word occurrence is
// earliest in text.
func firstMentioned(text string, candidates []string) string {
	lower := strings.ToLower(text)
	best, bestAt := "", -1
	for _, c := range candidates {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(strings.ToLower(c)) + `\b`)
		loc := re.FindStringIndex(lower)
		if loc == nil {
			continue
		}
		if bestAt < 0 || loc[0] < bestAt {
			best, bestAt = c, loc[0]
		}
	}
	return best
}

func extractConfidence(text string) float64 {
	if m := confidenceRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			if m[2] == "%" || v > 1 {
				v /= 100
			}
			return clamp01(v)
		}
	}
	if m := pctConfidence.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return clamp01(v / 100)
		}
	}
	lower := strings.ToLower(text)
	for _, k := range confidenceKeywords {
		if strings.Contains(lower, k.phrase) {
			return k.value
		}
	}
	return defaultConfidence
}

// reasoningSteps groups lines into steps, starting a new step at lines that
// open a new line of argument.
func reasoningSteps(text string) []string {
	var steps []string
	current := ""
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		starts := false
		for _, ind := range stepIndicators {
			if strings.Contains(lower, ind) {
				starts = true
				break
			}
		}
		switch {
		case starts && current != "":
			steps = append(steps, current)
			current = line
		case current == "":
			current = line
		default:
			current += " " + line
		}
	}
	if current != "" {
		steps = append(steps, current)
	}
	if len(steps) > maxReasoningSteps {
		steps = steps[:maxReasoningSteps]
	}
	return steps
}

func clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// JSONParser reads {"processor": ..., "confidence": ..., "rationale": ...},
// optionally inside a fenced code block or surrounded by prose.
type JSONParser struct{}

type jsonAnswer struct {
	Processor  string   `json:"processor"`
	Selected   string   `json:"selected_processor"`
	Confidence *float64 `json:"confidence"`
	Rationale  string   `json:"rationale"`
	Reasoning  []string `json:"reasoning"`
}

func (JSONParser) Parse(text string, candidates []string) (Parsed, error) {
	body := extractJSONObject(text)
	if body == "" {
		return Parsed{}, fmt.Errorf("%w: no JSON object", ErrNoProcessor)
	}
	var a jsonAnswer
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		return Parsed{}, fmt.Errorf("oracle: decode JSON answer: %w", err)
	}

	id := a.Processor
	if id == "" {
		id = a.Selected
	}
	processor := matchCandidate(strings.TrimSpace(id), candidates)
	if processor == "" {
		return Parsed{}, fmt.Errorf("%w: %q", ErrNoProcessor, id)
	}

	conf := defaultConfidence
	if a.Confidence != nil {
		conf = *a.Confidence
		if conf > 1 {
			conf /= 100
		}
		conf = clamp01(conf)
	}
	reasoning := a.Reasoning
	if len(reasoning) > maxReasoningSteps {
		reasoning = reasoning[:maxReasoningSteps]
	}
	rationale := strings.TrimSpace(a.Rationale)
	if rationale == "" {
		rationale = strings.Join(reasoning, "\n")
	}
	return Parsed{Processor: processor, Confidence: conf, Rationale: rationale, Reasoning: reasoning}, nil
}

// extractJSONObject returns the outermost {...} in text.
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
