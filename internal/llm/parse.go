package llm

import (
	"errors"
	"strings"
)

var errNoJSONObject = errors.New("no JSON object found in model output")

// jsonObjectBounds finds the first top-level-looking JSON object in raw by
// locating the first '{' and the matching last '}', exactly as the
// teacher's parseOracleResponse does for its single-shot OracleVision
// payload.
func jsonObjectBounds(raw string) (start, end int) {
	start = strings.Index(raw, "{")
	end = strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end <= start {
		return -1, -1
	}
	return start, end
}
