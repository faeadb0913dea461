package jsonutil

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexibleInt converts a json.RawMessage to an int, handling cases where
// LLMs quote numbers ("3") or prefix them ("#3"). Fractional values are
// rejected rather than truncated.
func FlexibleInt(raw json.RawMessage) (int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("empty value")
	}

	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		if numVal != float64(int64(numVal)) {
			return 0, fmt.Errorf("non-integer value %s", raw)
		}
		return int(numVal), nil
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		s := strings.TrimPrefix(strings.TrimSpace(strVal), "#")
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return 0, fmt.Errorf("non-integer value %q", strVal)
		}
		return n, nil
	}

	return 0, fmt.Errorf("non-integer value %s", raw)
}

// FlexibleInts converts each element with FlexibleInt.
func FlexibleInts(raws []json.RawMessage) ([]int, error) {
	out := make([]int, 0, len(raws))
	for i, raw := range raws {
		n, err := FlexibleInt(raw)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, n)
	}
	return out, nil
}
