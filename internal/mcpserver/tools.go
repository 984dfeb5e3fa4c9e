package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the payroute MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolRoutePayment = mcp.NewTool("route_payment",
	mcp.WithDescription(
		"Route a payment through the processor fallback chain. "+
			"The router picks a processor, executes the payment and falls back to the next "+
			"processor on failure until it succeeds or runs out of attempts. "+
			"Returns the processor used, the fee charged and every attempt made."),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Amount as a decimal string (e.g. '149.99')")),
	mcp.WithString("currency",
		mcp.Required(),
		mcp.Description("ISO 4217 currency code (e.g. 'USD')")),
	mcp.WithString("merchant_id",
		mcp.Required(),
		mcp.Description("Merchant the payment is for")),
	mcp.WithString("payment_id",
		mcp.Description("Idempotent payment id. Generated when omitted.")),
	mcp.WithString("description",
		mcp.Description("Free-text payment description")),
	mcp.WithString("business_priority",
		mcp.Description("What to optimize for when choosing a processor"),
		mcp.Enum("cost", "speed", "reliability", "risk_minimization", "compliance")),
	mcp.WithString("urgency",
		mcp.Description("How urgent the payment is. Urgency rises automatically as attempts fail."),
		mcp.Enum("routine", "normal", "elevated", "critical")),
	mcp.WithNumber("max_attempts",
		mcp.Description("Attempt budget for this payment (1-10, default from server config)")),
)

var ToolPreviewRoute = mcp.NewTool("preview_route",
	mcp.WithDescription(
		"Show how a payment would be routed without executing it: "+
			"the fallback chain, candidate processors with risk scores and estimated fees, "+
			"and the reasoning effort the first decision would use."),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Amount as a decimal string (e.g. '7500.00')")),
	mcp.WithString("currency",
		mcp.Description("ISO 4217 currency code (default 'USD')")),
	mcp.WithString("business_priority",
		mcp.Enum("cost", "speed", "reliability", "risk_minimization", "compliance")),
	mcp.WithString("urgency",
		mcp.Enum("routine", "normal", "elevated", "critical")),
)

var ToolListProcessors = mcp.NewTool("list_processors",
	mcp.WithDescription(
		"List payment processors with their health status (healthy, degraded, frozen, maintenance), "+
			"success rate, average latency and freeze risk."),
)

var ToolAssessProcessor = mcp.NewTool("assess_processor",
	mcp.WithDescription(
		"Score the risk of sending a payment of a given amount to one processor. "+
			"Returns a 0-10 risk score, the contributing factors and a recommendation."),
	mcp.WithString("processor_id",
		mcp.Required(),
		mcp.Description("Processor id (e.g. 'stripe')")),
	mcp.WithString("amount",
		mcp.Description("Amount as a decimal string (default '100')")),
	mcp.WithString("currency",
		mcp.Description("ISO 4217 currency code (default 'USD')")),
)

var ToolPaymentReport = mcp.NewTool("payment_report",
	mcp.WithDescription(
		"Explain how a payment was routed: every decision with its rationale and confidence, "+
			"every failed attempt and the final outcome, in order."),
	mcp.WithString("payment_id",
		mcp.Required(),
		mcp.Description("Payment id returned by route_payment")),
)

var ToolSessionSummary = mcp.NewTool("session_summary",
	mcp.WithDescription(
		"Summarize routing activity since the server started: payments routed, success and "+
			"exhaustion counts, failures per processor and oracle usage."),
)

var ToolFreezeProcessor = mcp.NewTool("freeze_processor",
	mcp.WithDescription(
		"Freeze a processor so no payment is routed to it. Requires an operator token. "+
			"Use restore_processor to lift the freeze."),
	mcp.WithString("processor_id",
		mcp.Required(),
		mcp.Description("Processor id to freeze")),
)

var ToolRestoreProcessor = mcp.NewTool("restore_processor",
	mcp.WithDescription(
		"Lift a freeze and return a processor to healthy. Requires an operator token."),
	mcp.WithString("processor_id",
		mcp.Required(),
		mcp.Description("Processor id to restore")),
)
