package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/payroute/internal/apiclient"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *apiclient.Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *apiclient.Client) *Handlers {
	return &Handlers{client: client}
}

// HandleRoutePayment routes a payment and summarizes the outcome.
func (h *Handlers) HandleRoutePayment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r := apiclient.RouteRequest{
		PaymentID:        req.GetString("payment_id", ""),
		Amount:           req.GetString("amount", ""),
		Currency:         req.GetString("currency", ""),
		MerchantID:       req.GetString("merchant_id", ""),
		Description:      req.GetString("description", ""),
		BusinessPriority: req.GetString("business_priority", ""),
		Urgency:          req.GetString("urgency", ""),
		MaxAttempts:      req.GetInt("max_attempts", 0),
	}
	if r.Amount == "" || r.Currency == "" || r.MerchantID == "" {
		return mcp.NewToolResultError("amount, currency and merchant_id are required"), nil
	}

	raw, err := h.client.RoutePayment(ctx, r)
	if err != nil {
		// Exhausted payments still carry the attempt history.
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) && apiErr.Code == "routing_failed" {
			var body struct {
				Outcome json.RawMessage `json:"outcome"`
			}
			if json.Unmarshal(raw, &body) == nil && len(body.Outcome) > 0 {
				if text, ferr := formatOutcome(body.Outcome); ferr == nil {
					return mcp.NewToolResultText(text), nil
				}
			}
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to route payment: %v", err)), nil
	}

	text, err := formatOutcome(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse outcome: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandlePreviewRoute shows the routing plan for a payment.
func (h *Handlers) HandlePreviewRoute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	amount := req.GetString("amount", "")
	if amount == "" {
		return mcp.NewToolResultError("amount is required"), nil
	}

	raw, err := h.client.Preview(ctx, amount,
		req.GetString("currency", ""),
		req.GetString("business_priority", ""),
		req.GetString("urgency", ""),
	)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to preview route: %v", err)), nil
	}

	text, err := formatPlan(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse plan: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListProcessors lists processors and their health.
func (h *Handlers) HandleListProcessors(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListProcessors(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list processors: %v", err)), nil
	}

	text, err := formatProcessorList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse processors: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleAssessProcessor scores one processor for an amount.
func (h *Handlers) HandleAssessProcessor(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("processor_id", "")
	if id == "" {
		return mcp.NewToolResultError("processor_id is required"), nil
	}

	raw, err := h.client.AssessProcessor(ctx, id, req.GetString("amount", ""), req.GetString("currency", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to assess processor: %v", err)), nil
	}

	text, err := formatAssessment(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse assessment: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandlePaymentReport explains how a payment was routed.
func (h *Handlers) HandlePaymentReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("payment_id", "")
	if id == "" {
		return mcp.NewToolResultError("payment_id is required"), nil
	}

	raw, err := h.client.Report(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get report: %v", err)), nil
	}

	text, err := formatReport(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse report: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleSessionSummary returns the session summary as JSON.
func (h *Handlers) HandleSessionSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.Summary(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get summary: %v", err)), nil
	}
	return mcp.NewToolResultText("Session summary:\n" + formatJSON(raw)), nil
}

// HandleFreezeProcessor freezes a processor.
func (h *Handlers) HandleFreezeProcessor(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.operatorAction(ctx, req, "freeze", h.client.FreezeProcessor)
}

// HandleRestoreProcessor lifts a freeze.
func (h *Handlers) HandleRestoreProcessor(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.operatorAction(ctx, req, "restore", h.client.RestoreProcessor)
}

func (h *Handlers) operatorAction(ctx context.Context, req mcp.CallToolRequest, action string,
	fn func(context.Context, string) (json.RawMessage, error)) (*mcp.CallToolResult, error) {
	id := req.GetString("processor_id", "")
	if id == "" {
		return mcp.NewToolResultError("processor_id is required"), nil
	}

	raw, err := fn(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to %s %s: %v", action, id, err)), nil
	}

	var rec processorInfo
	if err := json.Unmarshal(raw, &rec); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse processor: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Processor %s is now %s.", rec.ID, rec.Status)), nil
}

// -----------------------------------------------------------------------------
// Formatting
// -----------------------------------------------------------------------------

type attemptInfo struct {
	Attempt    int     `json:"attempt"`
	Processor  string  `json:"processor"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
	Effort     string  `json:"reasoningEffort"`
	Urgency    string  `json:"urgency"`
	Result     struct {
		Status       string `json:"status"`
		ErrorCode    string `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	} `json:"result"`
}

type outcomeInfo struct {
	PaymentID     string        `json:"paymentId"`
	Status        string        `json:"status"`
	Success       bool          `json:"success"`
	ProcessorUsed string        `json:"processorUsed"`
	FeeCharged    string        `json:"feeCharged"`
	FinalError    string        `json:"finalError"`
	Attempts      []attemptInfo `json:"attempts"`
}

func formatOutcome(raw json.RawMessage) (string, error) {
	var o outcomeInfo
	if err := json.Unmarshal(raw, &o); err != nil {
		return "", err
	}

	var sb strings.Builder
	if o.Success {
		fmt.Fprintf(&sb, "Payment %s succeeded on %s (fee %s).\n", o.PaymentID, o.ProcessorUsed, o.FeeCharged)
	} else {
		fmt.Fprintf(&sb, "Payment %s %s: %s\n", o.PaymentID, o.Status, o.FinalError)
	}

	fmt.Fprintf(&sb, "\nAttempts (%d):\n", len(o.Attempts))
	for _, a := range o.Attempts {
		fmt.Fprintf(&sb, "%d. %s [%s, confidence %.2f, effort %s, urgency %s]: %s",
			a.Attempt, a.Processor, a.Source, a.Confidence, a.Effort, a.Urgency, a.Result.Status)
		if a.Result.ErrorCode != "" {
			fmt.Fprintf(&sb, " (%s)", a.Result.ErrorCode)
		}
		sb.WriteString("\n")
		if a.Rationale != "" {
			fmt.Fprintf(&sb, "   %s\n", a.Rationale)
		}
	}
	return sb.String(), nil
}

func formatPlan(raw json.RawMessage) (string, error) {
	var p struct {
		Priority    string   `json:"businessPriority"`
		Urgency     string   `json:"urgency"`
		Effort      string   `json:"reasoningEffort"`
		Verbosity   string   `json:"verbosity"`
		MaxAttempts int      `json:"maxAttempts"`
		Chain       []string `json:"fallbackChain"`
		Candidates  []struct {
			ProcessorID    string  `json:"processorId"`
			Status         string  `json:"status"`
			RiskScore      float64 `json:"riskScore"`
			Recommendation string  `json:"recommendation"`
			EstimatedFee   string  `json:"estimatedFee"`
			Supported      bool    `json:"supported"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Priority %s, urgency %s: first decision uses %s effort, %s verbosity, up to %d attempts.\n",
		p.Priority, p.Urgency, p.Effort, p.Verbosity, p.MaxAttempts)
	if len(p.Chain) == 0 {
		sb.WriteString("No processor is currently routable.\n")
	} else {
		fmt.Fprintf(&sb, "Fallback chain: %s\n", strings.Join(p.Chain, " -> "))
	}
	if len(p.Candidates) > 0 {
		sb.WriteString("\nCandidates:\n")
		for _, c := range p.Candidates {
			support := ""
			if !c.Supported {
				support = ", unsupported"
			}
			fmt.Fprintf(&sb, "  %s (%s%s): risk %.1f, fee %s, %s\n",
				c.ProcessorID, c.Status, support, c.RiskScore, c.EstimatedFee, c.Recommendation)
		}
	}
	return sb.String(), nil
}

type processorInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Status   string `json:"status"`
	Priority int    `json:"fallbackPriority"`
	Metrics  struct {
		SuccessRate       float64 `json:"successRate"`
		AvgResponseTimeMs float64 `json:"avgResponseTimeMs"`
		FreezeRiskScore   float64 `json:"freezeRiskScore"`
		FailureCount24h   int     `json:"failureCount24h"`
	} `json:"metrics"`
}

func formatProcessorList(raw json.RawMessage) (string, error) {
	var resp struct {
		Processors []processorInfo `json:"processors"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Processors) == 0 {
		return "No processors registered.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d processor(s):\n\n", len(resp.Processors))
	for _, p := range resp.Processors {
		fmt.Fprintf(&sb, "%d. %s (%s, %s) - %s\n", p.Priority, p.Name, p.ID, p.Kind, strings.ToUpper(p.Status))
		fmt.Fprintf(&sb, "   Success rate %.1f%%, avg %.0fms, freeze risk %.1f, %d failures in 24h\n",
			p.Metrics.SuccessRate*100, p.Metrics.AvgResponseTimeMs, p.Metrics.FreezeRiskScore, p.Metrics.FailureCount24h)
	}
	return sb.String(), nil
}

func formatAssessment(raw json.RawMessage) (string, error) {
	var a struct {
		ProcessorID    string   `json:"processorId"`
		Score          float64  `json:"score"`
		Concerns       []string `json:"concerns"`
		Recommendation string   `json:"recommendation"`
		EstimatedFee   string   `json:"estimatedFee"`
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Processor %s: risk %.1f/10, %s.\n", a.ProcessorID, a.Score, a.Recommendation)
	fmt.Fprintf(&sb, "Estimated fee: %s\n", a.EstimatedFee)
	for _, c := range a.Concerns {
		fmt.Fprintf(&sb, "  - %s\n", c)
	}
	return sb.String(), nil
}

func formatReport(raw json.RawMessage) (string, error) {
	var r struct {
		PaymentID string `json:"paymentId"`
		Timeline  []struct {
			Seq     int64  `json:"seq"`
			Kind    string `json:"kind"`
			Summary string `json:"summary"`
		} `json:"timeline"`
		Outcome *struct {
			Status        string `json:"status"`
			ProcessorUsed string `json:"processorUsed"`
			Attempts      int    `json:"attempts"`
			Error         string `json:"error"`
		} `json:"outcome"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Payment %s\n", r.PaymentID)
	if o := r.Outcome; o != nil {
		fmt.Fprintf(&sb, "Outcome: %s after %d attempt(s)", o.Status, o.Attempts)
		if o.ProcessorUsed != "" {
			fmt.Fprintf(&sb, " on %s", o.ProcessorUsed)
		}
		if o.Error != "" {
			fmt.Fprintf(&sb, " (%s)", o.Error)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nTimeline:\n")
	for _, e := range r.Timeline {
		fmt.Fprintf(&sb, "  #%d %s: %s\n", e.Seq, e.Kind, e.Summary)
	}
	return sb.String(), nil
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}
