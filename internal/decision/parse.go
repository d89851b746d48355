package decision

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var requiredFields = []string{"action", "reasoning", "confidence"}

// ExtractJSON strips a ```json or ``` fence around the payload
func ExtractJSON(response string) string {
	if i := strings.Index(response, "```json"); i >= 0 {
		rest := response[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(rest)
	}
	if i := strings.Index(response, "```"); i >= 0 {
		rest := response[i+3:]
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(response)
}

// Parse turns a model reply into a Decision. The reply must be a JSON object
// carrying action, reasoning and confidence.
func Parse(response, symbol string) (Decision, error) {
	payload := ExtractJSON(response)

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	var missing []string
	for _, f := range requiredFields {
		if _, ok := fields[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return Decision{}, fmt.Errorf("%w: missing required fields %s", ErrMalformedResponse, strings.Join(missing, ", "))
	}

	action := Action(strings.ToLower(strings.TrimSpace(stringField(fields, "action"))))
	if !action.Valid() {
		return Decision{}, fmt.Errorf("%w: unknown action %q", ErrMalformedResponse, action)
	}

	confidence, ok := numberField(fields, "confidence")
	if !ok {
		return Decision{}, fmt.Errorf("%w: confidence is not a number", ErrMalformedResponse)
	}

	d := Decision{
		Action:             action,
		Symbol:             symbol,
		Confidence:         math.Max(0, math.Min(100, confidence)),
		Reasoning:          stringField(fields, "reasoning"),
		EdgeIdentified:     stringField(fields, "edge_identified"),
		TimeframeAlignment: stringField(fields, "timeframe_alignment"),
		RawResponse:        response,
		Timestamp:          time.Now(),
	}
	if s := stringField(fields, "symbol"); s != "" && symbol == "" {
		d.Symbol = s
	}
	if v, ok := numberField(fields, "stop_loss"); ok && v > 0 {
		d.StopLoss = Float(v)
	}
	if v, ok := numberField(fields, "take_profit"); ok && v > 0 {
		d.TakeProfit = Float(v)
	}
	if v, ok := numberField(fields, "expected_rr"); ok {
		d.ExpectedRR = v
	}
	return d, nil
}

// ParseOrHold is Parse with malformed replies coerced to a zero-confidence hold
func ParseOrHold(response, symbol string) (Decision, error) {
	d, err := Parse(response, symbol)
	if err != nil {
		hold := Hold(symbol, fmt.Sprintf("Failed to parse model response: %v", err))
		hold.RawResponse = response
		return hold, err
	}
	return d, nil
}

func stringField(fields map[string]interface{}, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// numberField accepts JSON numbers and numeric strings such as "85" or "$101.5"
func numberField(fields map[string]interface{}, key string) (float64, bool) {
	switch v := fields[key].(type) {
	case float64:
		return v, !math.IsNaN(v) && !math.IsInf(v, 0)
	case string:
		s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(v), "$"))
		s = strings.TrimSuffix(s, "%")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
