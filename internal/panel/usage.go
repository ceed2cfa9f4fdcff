package panel

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Panels disagree wildly about how they report usage: wrapped data/user/
// result/stats/obj envelopes, nested or flat traffic fields, a single
// cumulative counter or an upload+download pair, string or numeric encoding.
// parseUsageBytes tolerates all of them. A payload with no recognized
// traffic field yields 0 — a valid "no usage" answer — while an explicit
// success:false envelope is a hard failure. The two must never be confused.
func parseUsageBytes(data []byte) (int64, error) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return 0, fmt.Errorf("parse usage payload: %w", err)
	}
	if ok, present := envelopeSuccess(payload); present && !ok {
		return 0, fmt.Errorf("%w: usage response reported failure", ErrRemote)
	}
	return extractUsage(unwrapEnvelope(payload)), nil
}

func envelopeSuccess(payload map[string]any) (ok, present bool) {
	raw, exists := payload["success"]
	if !exists {
		return false, false
	}
	switch v := raw.(type) {
	case bool:
		return v, true
	case string:
		return strings.EqualFold(v, "true") || v == "1", true
	case float64:
		return v != 0, true
	}
	return false, false
}

// unwrapEnvelope descends through the wrapper keys panels like to use,
// stopping at the first level that carries traffic fields.
func unwrapEnvelope(payload map[string]any) map[string]any {
	current := payload
	for depth := 0; depth < 3; depth++ {
		if hasUsageField(current) {
			return current
		}
		descended := false
		for _, key := range []string{"data", "user", "result", "stats", "obj", "client"} {
			if inner, ok := current[key].(map[string]any); ok {
				current = inner
				descended = true
				break
			}
		}
		if !descended {
			break
		}
	}
	return current
}

var cumulativeKeys = []string{
	"used_traffic", "total_used", "usage", "usage_bytes", "total_bytes",
	"data_used", "transfer_total", "all_time",
}

var pairKeys = [][2]string{
	{"up", "down"},
	{"upload", "download"},
	{"uplink", "downlink"},
	{"total_sent", "total_receive"},
}

func hasUsageField(m map[string]any) bool {
	for _, key := range cumulativeKeys {
		if _, ok := m[key]; ok {
			return true
		}
	}
	for _, pair := range pairKeys {
		if _, ok := m[pair[0]]; ok {
			return true
		}
	}
	return false
}

func extractUsage(m map[string]any) int64 {
	for _, key := range cumulativeKeys {
		if raw, ok := m[key]; ok {
			if v, ok := asInt64(raw); ok {
				return v
			}
		}
	}
	for _, pair := range pairKeys {
		up, upOK := asInt64(m[pair[0]])
		down, downOK := asInt64(m[pair[1]])
		if upOK || downOK {
			return up + down
		}
	}
	return 0
}

func asInt64(raw any) (int64, bool) {
	switch v := raw.(type) {
	case float64:
		return int64(v), true
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, false
		}
		if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return int64(f), true
		}
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
	}
	return 0, false
}

// asFloat64 tolerates numeric or string encodings for fractional units
// (Hiddify reports usage in GB).
func asFloat64(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
