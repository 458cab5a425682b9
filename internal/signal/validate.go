package signal

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ValidateCandidatePayload checks an inbound candidate-signal JSON body
// before decoding. A failure here is a data-quality problem for that one
// payload, never a crash.
func ValidateCandidatePayload(raw string) error {
	body, err := parseObject(raw)
	if err != nil {
		return err
	}
	for _, field := range []string{"id", "symbol", "source"} {
		if strings.TrimSpace(body.Get(field).String()) == "" {
			return fmt.Errorf("missing field %q", field)
		}
	}
	for _, field := range []string{"trust_score", "confidence_score", "signal_score"} {
		v := body.Get(field)
		if !v.Exists() {
			return fmt.Errorf("missing field %q", field)
		}
		if v.Type != gjson.Number {
			return fmt.Errorf("field %q must be a number", field)
		}
		if v.Float() < 0 || v.Float() > 100 {
			return fmt.Errorf("field %q out of range [0,100]: %v", field, v.Float())
		}
	}
	if verdict := body.Get("deliberation.verdict"); verdict.Exists() {
		switch strings.ToUpper(strings.TrimSpace(verdict.String())) {
		case VerdictApprove, VerdictRevise, VerdictReject:
		default:
			return fmt.Errorf("unknown deliberation verdict %q", verdict.String())
		}
	}
	return nil
}

// ValidateOutcomePayload checks an inbound closed-trade JSON body.
func ValidateOutcomePayload(raw string) error {
	body, err := parseObject(raw)
	if err != nil {
		return err
	}
	for _, field := range []string{"trade_id", "strategy", "source"} {
		if strings.TrimSpace(body.Get(field).String()) == "" {
			return fmt.Errorf("missing field %q", field)
		}
	}
	pnl := body.Get("pnl_percent")
	if !pnl.Exists() {
		return fmt.Errorf("missing field %q", "pnl_percent")
	}
	if pnl.Type != gjson.Number && pnl.Type != gjson.String {
		return fmt.Errorf("pnl_percent must be numeric")
	}
	return nil
}

func parseObject(raw string) (gjson.Result, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return gjson.Result{}, fmt.Errorf("empty payload")
	}
	if !gjson.Valid(raw) {
		return gjson.Result{}, fmt.Errorf("invalid json")
	}
	parsed := gjson.Parse(raw)
	if !parsed.IsObject() {
		return gjson.Result{}, fmt.Errorf("payload must be a json object")
	}
	return parsed, nil
}
