package crm

import "strings"

// NormalizeHotelType maps free-text hotel preferences to the CRM's
// categorical star ratings. Matching is case-insensitive substring matching
// against a fixed rule table; unrecognized input passes through verbatim and
// empty input stays empty.
func NormalizeHotelType(s string) string {
	if s == "" {
		return ""
	}
	lower := strings.ToLower(strings.TrimSpace(s))

	switch {
	case containsAnyOf(lower, "5", "five", "luxury"):
		return "5 Star"
	case containsAnyOf(lower, "4", "four", "premium"):
		return "4 Star"
	case containsAnyOf(lower, "3", "three", "standard"):
		return "3 Star"
	case containsAnyOf(lower, "2", "two", "budget"):
		return "2 Star"
	case strings.Contains(lower, "resort"):
		return "Resort"
	case strings.Contains(lower, "villa"):
		return "Villa"
	case strings.Contains(lower, "home") || strings.Contains(lower, "stay"):
		return "Homestay"
	}
	return s
}

// NormalizeMealPlan maps free-text meal preferences to the CRM's plan codes
// (AP, MAP, CP, EP). Same rules as NormalizeHotelType: fixed table,
// case-insensitive, unrecognized passed through, empty stays empty.
func NormalizeMealPlan(s string) string {
	if s == "" {
		return ""
	}
	lower := strings.ToLower(strings.TrimSpace(s))

	switch {
	case strings.Contains(lower, "all") || lower == "ap":
		return "AP"
	case containsAnyOf(lower, "half", "modified") || lower == "map":
		return "MAP"
	case containsAnyOf(lower, "breakfast", "continental") || lower == "cp":
		return "CP"
	case containsAnyOf(lower, "no", "european", "room only") || lower == "ep":
		return "EP"
	}
	return s
}

func containsAnyOf(s string, substrings ...string) bool {
	for _, substr := range substrings {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
