package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tripandevent/voice-agent-bridge/internal/crm"
)

// robotArgKeys maps an action type to the argument key the robot client
// expects. Unknown types fall back to "action".
var robotArgKeys = map[string]string{
	"gesture":    "gesture",
	"emotion":    "emotion",
	"look":       "direction",
	"move_hands": "action",
	"move_body":  "action",
}

// Tool methods. Each returns a JSON-encoded result string and never an
// error: the speech pipeline feeds the string back to the model, and a
// failure payload reads better in conversation than a crashed turn.

// SaveCustomerLead saves a lead as soon as a name is known. Everything the
// caller could not slot into a structured field arrives in details and is
// stored as the conversation summary.
func (o *Orchestrator) SaveCustomerLead(ctx context.Context, name, phone, email, details string) string {
	o.logger.Info().Str("name", name).Msg("Tool: save_customer_lead")
	result := o.crm.SaveLead(ctx, crm.LeadInput{
		Name:                name,
		Phone:               phone,
		Email:               email,
		ConversationSummary: details,
	})
	return encodeToolResult(o, result)
}

// FindPackages searches travel packages, or fetches one package's details
// when packageID is set. Behind the package-search feature flag.
func (o *Orchestrator) FindPackages(ctx context.Context, query, packageID string) string {
	if !o.opts.EnablePackageSearch {
		return encodeToolResult(o, map[string]any{
			"success": false,
			"message": "Package search is currently unavailable. Please note the customer's destination interest and our team will follow up with options.",
		})
	}

	if packageID != "" {
		o.logger.Info().Str("package_id", packageID).Msg("Tool: get_package_details")
		return encodeToolResult(o, o.crm.GetPackageDetail(ctx, packageID))
	}

	o.logger.Info().Str("query", query).Msg("Tool: find_packages")
	return encodeToolResult(o, o.crm.FindPackages(ctx, crm.PackageQuery{Query: query}))
}

// RobotAction sends a robot control command over the data channel. The
// command name gets a "robot_" prefix unless the caller already supplied one.
func (o *Orchestrator) RobotAction(ctx context.Context, actionType, value string) string {
	command := actionType
	if !strings.HasPrefix(command, "robot_") {
		command = "robot_" + command
	}
	argKey, ok := robotArgKeys[actionType]
	if !ok {
		argKey = "action"
	}
	o.sendRobotCommand(ctx, command, map[string]string{argKey: value})
	return encodeToolResult(o, map[string]any{"success": true})
}

// DisconnectCall asks the robot client to end the conversation
func (o *Orchestrator) DisconnectCall(ctx context.Context, reason string) string {
	if reason == "" {
		reason = "customer_done"
	}
	o.logger.Info().Str("reason", reason).Msg("Tool: disconnect_call")
	o.sendRobotCommand(ctx, "disconnect_call", map[string]string{"reason": reason})
	return encodeToolResult(o, map[string]any{"success": true})
}

func encodeToolResult(o *Orchestrator, result any) string {
	payload, err := json.Marshal(result)
	if err != nil {
		o.logger.Error().Err(err).Msg("Tool result encoding failed")
		return `{"success":false,"message":"internal error"}`
	}
	return string(payload)
}
