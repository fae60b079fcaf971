package protocol

import "encoding/json"

// mergeExtra adds unknown fields back onto an encoded object. Known fields
// always win over a same-named entry in extra.
func mergeExtra(known []byte, extra map[string]json.RawMessage, fields map[string]struct{}) ([]byte, error) {
	if len(extra) == 0 {
		return known, nil
	}
	merged := make(map[string]json.RawMessage, len(extra)+8)
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, isKnown := fields[k]; isKnown {
			continue
		}
		if len(v) == 0 {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

func splitExtra(data []byte, fields map[string]struct{}) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	var extra map[string]json.RawMessage
	for k, v := range all {
		if _, isKnown := fields[k]; isKnown {
			continue
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[k] = v
	}
	return extra, nil
}
