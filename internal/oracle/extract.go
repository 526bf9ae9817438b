package oracle

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ExtractJSON locates the outermost balanced {...} block in text and
// returns it. Models routinely wrap their JSON in prose or markdown fences;
// extraction tolerates both. Balancing is done by brace counting with
// string and escape awareness, not by regular expressions.
func ExtractJSON(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object found in response")
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]

		if escaped {
			escaped = false
			continue
		}

		switch {
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// Braces inside strings don't count.
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}

	return "", fmt.Errorf("unbalanced JSON object in response")
}

// ClampConfidence coerces a raw confidence value into [0,1]. Numbers are
// clamped; numeric strings are parsed then clamped; anything unparseable
// (including NaN and nil) yields the neutral 0.5.
func ClampConfidence(raw any) float64 {
	var v float64
	switch x := raw.(type) {
	case float64:
		v = x
	case float32:
		v = float64(x)
	case int:
		v = float64(x)
	case int64:
		v = float64(x)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0.5
		}
		v = parsed
	default:
		return 0.5
	}

	if math.IsNaN(v) {
		return 0.5
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
