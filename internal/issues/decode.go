package issues

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MethodIssueAdded is the protocol method carrying inspector issues.
const MethodIssueAdded = "Audits.issueAdded"

// DecodeEvents reads recorded inspector issues from r. The input is a stream of JSON
// values (so JSON lines work) where each value is one of:
//
//   - a protocol message {"method": "Audits.issueAdded", "params": {...}}
//   - event params {"issue": {...}}
//   - an inspector issue {"code": "...", "details": {...}}
//   - bare cookie issue details {"cookieExclusionReasons": [...], ...}
//   - an array of any of the above
//
// Protocol messages for other methods are skipped.
func DecodeEvents(r io.Reader) ([]InspectorIssue, error) {
	dec := json.NewDecoder(r)
	var out []InspectorIssue
	for n := 0; ; n++ {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("value %d: %w", n, err)
		}
		got, err := decodeValue(raw)
		if err != nil {
			return out, fmt.Errorf("value %d: %w", n, err)
		}
		out = append(out, got...)
	}
}

func decodeValue(raw json.RawMessage) ([]InspectorIssue, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		var out []InspectorIssue
		for _, item := range items {
			got, err := decodeValue(item)
			if err != nil {
				return out, err
			}
			out = append(out, got...)
		}
		return out, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}

	switch {
	case probe["method"] != nil:
		var msg struct {
			Method string     `json:"method"`
			Params IssueAdded `json:"params"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Method != MethodIssueAdded {
			return nil, nil
		}
		return []InspectorIssue{msg.Params.Issue}, nil
	case probe["issue"] != nil:
		var ev IssueAdded
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, err
		}
		return []InspectorIssue{ev.Issue}, nil
	case probe["code"] != nil:
		var ii InspectorIssue
		if err := json.Unmarshal(raw, &ii); err != nil {
			return nil, err
		}
		return []InspectorIssue{ii}, nil
	case probe["cookieExclusionReasons"] != nil || probe["cookieWarningReasons"] != nil:
		var d Details
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return []InspectorIssue{{
			Code:    InspectorIssueCodeCookieIssue,
			Details: InspectorIssueDetails{CookieIssueDetails: &d},
		}}, nil
	}
	return nil, errors.New("unrecognised event shape")
}
