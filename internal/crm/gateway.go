package crm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tripandevent/voice-agent-bridge/internal/observability"
)

// Gateway maps the voice agent's domain operations onto CRM API calls.
// Every operation returns a tagged result with Success and a human-readable
// message; failures are captured here and never propagate as errors, so a
// failed tool call cannot crash the conversation.
type Gateway struct {
	client  *Client
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewGateway creates a CRM gateway. metrics may be nil.
func NewGateway(client *Client, logger zerolog.Logger, metrics *observability.Metrics) *Gateway {
	return &Gateway{client: client, logger: logger, metrics: metrics}
}

// LeadInput is the loosely-typed caller input for a lead save
type LeadInput struct {
	Name                string
	Phone               string
	Email               string
	Destination         string
	TravelDate          string
	Nights              int
	Adults              int
	Children            int
	HotelType           string
	MealPlan            string
	SpecialRequirements string
	ConversationSummary string
}

// LeadResult is the stable output shape of SaveLead
type LeadResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	LeadID  string `json:"lead_id,omitempty"`
}

// SaveLead creates a lead in the CRM. Name is required; all other fields are
// optional and omitted from the payload when absent. Attribution tags are
// fixed and always attached. Success is determined by the presence of any of
// success/id/lead_id in the response, even on HTTP 200.
func (g *Gateway) SaveLead(ctx context.Context, in LeadInput) LeadResult {
	g.logger.Info().Str("name", in.Name).Msg("Saving lead")
	if g.metrics != nil {
		g.metrics.RecordCRMStart("save_lead")
	}

	adults := in.Adults
	if adults == 0 {
		adults = 2
	}

	payload := map[string]any{
		"name":     in.Name,
		"adults":   adults,
		"children": in.Children,
		"infants":  0,
		// Attribution: fixed tags identifying the capture channel
		"source":      "Voice Agent",
		"sourceType":  "voice_agent",
		"utmSource":   "sanbot",
		"utmMedium":   "voice",
		"utmCampaign": "orchestrated-livekit",
		"notes":       "Lead captured via SanBot Voice Agent (Orchestrated Mode).",
	}

	putIfSet(payload, "email", in.Email)
	putIfSet(payload, "mobile", in.Phone)
	putIfSet(payload, "destination", in.Destination)
	putIfSet(payload, "journeyStartDate", in.TravelDate)
	if in.Nights > 0 {
		payload["durationNights"] = in.Nights
		payload["durationDays"] = in.Nights + 1
	}
	putIfSet(payload, "hotelType", NormalizeHotelType(in.HotelType))
	putIfSet(payload, "mealPlan", NormalizeMealPlan(in.MealPlan))
	putIfSet(payload, "specialRequirement", in.SpecialRequirements)
	putIfSet(payload, "aiSummary", in.ConversationSummary)

	result, err := g.client.Do(ctx, http.MethodPost, "leads", payload)
	if err != nil {
		if g.metrics != nil {
			g.metrics.RecordCRMEnd("save_lead", false)
		}
		return LeadResult{Success: false, Message: fmt.Sprintf("Failed to save lead: %v", err)}
	}

	body := asMap(result)
	if isTruthy(body["success"]) || hasValue(body, "id") || hasValue(body, "lead_id") {
		leadID := "saved"
		if v, ok := firstValue(body, "id", "lead_id"); ok {
			leadID = stringify(v)
		}
		if g.metrics != nil {
			g.metrics.RecordCRMEnd("save_lead", true)
		}
		return LeadResult{
			Success: true,
			Message: fmt.Sprintf("Lead saved for %s!", in.Name),
			LeadID:  leadID,
		}
	}

	if g.metrics != nil {
		g.metrics.RecordCRMEnd("save_lead", false)
	}
	return LeadResult{Success: false, Message: "Failed to save lead: Unknown error"}
}

// PackageQuery is the loosely-typed caller input for a package search
type PackageQuery struct {
	Query       string // free-text keyword, used as destination filter
	Destination string
	MinPrice    float64
	MaxPrice    float64
	PackageType string
	Nights      int // translated to a plus/minus one night window
	Limit       int
}

// PackagesResult is the stable output shape of FindPackages
type PackagesResult struct {
	Success      bool             `json:"success"`
	Message      string           `json:"message,omitempty"`
	Count        int              `json:"count"`
	Packages     []map[string]any `json:"packages"`
	VoiceSummary string           `json:"voice_summary,omitempty"`
}

// FindPackages searches travel packages. The free-text query doubles as the
// destination filter. Besides the raw list it pre-renders a short voice
// summary, naming at most three packages and counting the rest, because the
// agent should never recite more than a few items verbally.
func (g *Gateway) FindPackages(ctx context.Context, q PackageQuery) PackagesResult {
	g.logger.Info().Str("query", q.Query).Str("destination", q.Destination).Msg("Finding packages")
	if g.metrics != nil {
		g.metrics.RecordCRMStart("find_packages")
	}

	params := url.Values{}

	destination := q.Destination
	if destination == "" {
		destination = q.Query
	}
	if destination != "" {
		params.Set("destination", destination)
	}
	if q.MinPrice > 0 {
		params.Set("minPrice", formatNumber(q.MinPrice))
	}
	if q.MaxPrice > 0 {
		params.Set("maxPrice", formatNumber(q.MaxPrice))
	}
	if q.PackageType != "" {
		params.Set("packageType", q.PackageType)
	}
	if q.Nights > 0 {
		minNights := q.Nights - 1
		if minNights < 1 {
			minNights = 1
		}
		params.Set("minNights", strconv.Itoa(minNights))
		params.Set("maxNights", strconv.Itoa(q.Nights+1))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 5
	}
	params.Set("limit", strconv.Itoa(limit))

	endpoint := "packages?" + params.Encode()

	result, err := g.client.Do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		if g.metrics != nil {
			g.metrics.RecordCRMEnd("find_packages", false)
		}
		return PackagesResult{
			Success:  false,
			Message:  fmt.Sprintf("Could not fetch packages: %v", err),
			Packages: []map[string]any{},
		}
	}

	if reason, failed := crmFailure(asMap(result)); failed {
		if g.metrics != nil {
			g.metrics.RecordCRMEnd("find_packages", false)
		}
		return PackagesResult{
			Success:  false,
			Message:  fmt.Sprintf("Could not fetch packages: %s", reason),
			Packages: []map[string]any{},
		}
	}

	list := extractList(result)
	packages := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m := asMap(item); m != nil {
			packages = append(packages, m)
		}
	}

	if g.metrics != nil {
		g.metrics.RecordCRMEnd("find_packages", true)
	}
	return PackagesResult{
		Success:      true,
		Count:        len(packages),
		Packages:     packages,
		VoiceSummary: summarizePackages(packages),
	}
}

// summarizePackages renders the spoken search summary: at most three packages
// named individually, the remainder counted.
func summarizePackages(packages []map[string]any) string {
	count := len(packages)
	if count == 0 {
		return "No packages found. Let me suggest some alternatives!"
	}

	plural := ""
	if count > 1 {
		plural = "s"
	}
	parts := []string{fmt.Sprintf("Found %d package%s!", count, plural)}

	shown := packages
	if count > 3 {
		shown = packages[:3]
	}
	for i, pkg := range shown {
		name := "Package"
		if v, ok := firstString(pkg, "packageName", "package_name", "name"); ok {
			name = v
		}
		nights := "?"
		if v, ok := firstValue(pkg, "totalNights", "total_nights", "nights"); ok {
			nights = stringify(v)
		}
		price := "?"
		if v, ok := firstValue(pkg, "sellingPrice", "selling_price", "price"); ok {
			price = stringify(v)
		}
		currency := "INR"
		if v, ok := firstString(pkg, "currency"); ok {
			currency = v
		}
		parts = append(parts, fmt.Sprintf("%d. %s - %s nights at %s %s.", i+1, name, nights, currency, price))
	}
	if count > 3 {
		parts = append(parts, fmt.Sprintf("And %d more options.", count-3))
	}
	return strings.Join(parts, " ")
}

// PackageDetail is the stable output shape of GetPackageDetail
type PackageDetail struct {
	Success          bool     `json:"success"`
	Message          string   `json:"message,omitempty"`
	ID               string   `json:"id,omitempty"`
	Name             string   `json:"name,omitempty"`
	Description      string   `json:"description"`
	Price            float64  `json:"price"`
	Currency         string   `json:"currency,omitempty"`
	Nights           int      `json:"nights"`
	Days             int      `json:"days"`
	Destinations     []string `json:"destinations"`
	Inclusions       []string `json:"inclusions"`
	Exclusions       []string `json:"exclusions"`
	VoiceDescription string   `json:"voice_description,omitempty"`
}

// GetPackageDetail fetches one package by id and projects it into a fixed
// shape with defaulted values, plus a one-paragraph spoken description
// capped at four listed inclusions.
func (g *Gateway) GetPackageDetail(ctx context.Context, packageID string) PackageDetail {
	g.logger.Info().Str("package_id", packageID).Msg("Getting package details")
	if g.metrics != nil {
		g.metrics.RecordCRMStart("get_package")
	}

	result, err := g.client.Do(ctx, http.MethodGet, "packages/"+packageID, nil)
	if err != nil {
		if g.metrics != nil {
			g.metrics.RecordCRMEnd("get_package", false)
		}
		return PackageDetail{Success: false, Message: fmt.Sprintf("Could not find package: %v", err)}
	}

	pkg := asMap(result)
	if reason, failed := crmFailure(pkg); failed {
		if g.metrics != nil {
			g.metrics.RecordCRMEnd("get_package", false)
		}
		return PackageDetail{Success: false, Message: fmt.Sprintf("Could not find package: %s", reason)}
	}
	if inner := asMap(pkg["data"]); inner != nil {
		pkg = inner
	}
	if pkg == nil {
		pkg = map[string]any{}
	}

	name := "Unknown"
	if v, ok := firstString(pkg, "packageName", "package_name", "name"); ok {
		name = v
	}

	nights := 0
	if v, ok := firstNumber(pkg, "totalNights", "total_nights", "nights"); ok {
		nights = int(v)
	}
	days := 0
	if v, ok := firstNumber(pkg, "totalDays", "total_days"); ok {
		days = int(v)
	} else if nights > 0 {
		days = nights + 1
	}

	price, _ := firstNumber(pkg, "sellingPrice", "selling_price", "basePrice", "base_price", "price")

	currency := "INR"
	if v, ok := firstString(pkg, "currency"); ok {
		currency = v
	}

	id := packageID
	if v, ok := pkg["id"]; ok && v != nil {
		id = stringify(v)
	}

	description, _ := firstString(pkg, "description")
	inclusions := stringList(pkg["inclusions"])

	voice := fmt.Sprintf("%s. %d nights %d days starting from %s %s per person.",
		name, nights, days, currency, formatNumber(price))
	if len(inclusions) > 0 {
		listed := inclusions
		more := ""
		if len(inclusions) > 4 {
			listed = inclusions[:4]
			more = " and more"
		}
		voice += fmt.Sprintf(" Includes: %s%s.", strings.Join(listed, ", "), more)
	}

	if g.metrics != nil {
		g.metrics.RecordCRMEnd("get_package", true)
	}
	return PackageDetail{
		Success:          true,
		ID:               id,
		Name:             name,
		Description:      description,
		Price:            price,
		Currency:         currency,
		Nights:           nights,
		Days:             days,
		Destinations:     stringList(pkg["destinations"]),
		Inclusions:       inclusions,
		Exclusions:       stringList(pkg["exclusions"]),
		VoiceDescription: voice,
	}
}

// crmFailure detects a CRM-level failure delivered on HTTP 200: a body whose
// success field is explicitly false. Returns the CRM's own error text.
func crmFailure(body map[string]any) (string, bool) {
	b, ok := body["success"].(bool)
	if !ok || b {
		return "", false
	}
	if v, ok := firstString(body, "error", "message"); ok && v != "" {
		return v, true
	}
	return "Unknown error", true
}

func putIfSet(payload map[string]any, key, value string) {
	if value != "" {
		payload[key] = value
	}
}

func isTruthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case nil:
		return false
	default:
		return true
	}
}

func hasValue(m map[string]any, key string) bool {
	v, ok := m[key]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return s != ""
	}
	return true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return formatNumber(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// formatNumber renders a JSON number without a trailing ".0" for integers
func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
