package exchange

import (
	"fmt"
	"strconv"
	"strings"
)

func OrderIDFromResponse(resp map[string]any) string {
	if resp == nil {
		return ""
	}
	return orderIDFromAny(resp)
}

// OrderIDsFromResponse returns the numeric ids of all resting or filled
// statuses in placement order.
func OrderIDsFromResponse(resp map[string]any) []int64 {
	statuses := findStatuses(resp)
	ids := make([]int64, 0, len(statuses))
	for _, status := range statuses {
		m, ok := status.(map[string]any)
		if !ok {
			continue
		}
		for _, key := range []string{"resting", "filled"} {
			if nested, ok := m[key].(map[string]any); ok {
				if id, ok := int64FromAny(nested["oid"]); ok {
					ids = append(ids, id)
				}
			}
		}
	}
	return ids
}

// ResponseError surfaces venue-level rejections that arrive with http 200.
func ResponseError(resp map[string]any) error {
	if resp == nil {
		return nil
	}
	if status := stringFromAny(resp["status"]); status != "" && !strings.EqualFold(status, "ok") {
		detail := stringFromAny(resp["response"])
		if detail == "" {
			detail = status
		}
		return fmt.Errorf("exchange rejected action: %s", detail)
	}
	for _, status := range findStatuses(resp) {
		if m, ok := status.(map[string]any); ok {
			if msg := stringFromAny(m["error"]); msg != "" {
				return fmt.Errorf("exchange rejected order: %s", msg)
			}
		}
	}
	return nil
}

func findStatuses(v any) []any {
	switch val := v.(type) {
	case map[string]any:
		if statuses, ok := val["statuses"].([]any); ok {
			return statuses
		}
		for _, nested := range val {
			if found := findStatuses(nested); found != nil {
				return found
			}
		}
	case []any:
		for _, nested := range val {
			if found := findStatuses(nested); found != nil {
				return found
			}
		}
	}
	return nil
}

func int64FromAny(v any) (int64, bool) {
	switch val := v.(type) {
	case float64:
		return int64(val), true
	case int64:
		return val, true
	case int:
		return int64(val), true
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

func stringFromAny(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatInt(int64(val), 10)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}

func orderIDFromAny(v any) string {
	switch val := v.(type) {
	case map[string]any:
		for _, key := range []string{"orderId", "orderID", "oid", "id"} {
			if id := stringFromAny(val[key]); id != "" {
				return id
			}
		}
		for _, nested := range val {
			if id := orderIDFromAny(nested); id != "" {
				return id
			}
		}
	case []any:
		for _, nested := range val {
			if id := orderIDFromAny(nested); id != "" {
				return id
			}
		}
	}
	return ""
}
