package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

var (
	codeFencePattern   = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")
	pythonTruePattern  = regexp.MustCompile(`\bTrue\b`)
	pythonFalsePattern = regexp.MustCompile(`\bFalse\b`)
	pythonNonePattern  = regexp.MustCompile(`\bNone\b`)
)

// CleanReply normalizes a model reply into parseable JSON text. Models
// wrap answers in markdown code fences, tag them with a leading "json",
// or emit Python literals; all of that is stripped or rewritten here.
func CleanReply(reply string) string {
	cleaned := strings.TrimSpace(reply)

	if m := codeFencePattern.FindStringSubmatch(cleaned); m != nil {
		cleaned = m[1]
	}
	if rest, ok := strings.CutPrefix(cleaned, "json"); ok {
		trimmed := strings.TrimLeft(rest, " \t\r\n")
		if trimmed == "" || trimmed[0] == '{' || trimmed[0] == '[' {
			cleaned = trimmed
		}
	}

	cleaned = pythonTruePattern.ReplaceAllString(cleaned, "true")
	cleaned = pythonFalsePattern.ReplaceAllString(cleaned, "false")
	cleaned = pythonNonePattern.ReplaceAllString(cleaned, "null")

	return strings.TrimSpace(cleaned)
}

// ParseJSONReply cleans a reply and parses it as a JSON object. Replies
// that still fail to parse are logged with the offending payload and
// yield an empty map; extraction treats that as "no answer" rather than
// an error.
func ParseJSONReply(ctx context.Context, reply string) map[string]any {
	cleaned := CleanReply(reply)

	var result map[string]any
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		slog.WarnContext(ctx, "Failed to parse model reply as JSON",
			"error", err,
			"reply", reply)
		return map[string]any{}
	}
	if result == nil {
		return map[string]any{}
	}
	return result
}

// AsBool coerces a parsed JSON value to a boolean, using truthiness for
// non-boolean values: missing, null, zero, empty string and empty
// containers are false, everything else true. String forms of true/false
// (and yes/no) are honored regardless of case.
func AsBool(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "", "false", "no", "0", "null", "none":
			return false
		default:
			return true
		}
	case float64:
		return v != 0
	case int:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}

// AsNumber coerces a parsed JSON value to a float, returning nil for
// missing, null or non-numeric values. Numeric strings are parsed so a
// model answering "500" instead of 500 still counts.
func AsNumber(value any) *float64 {
	switch v := value.(type) {
	case float64:
		return &v
	case int:
		f := float64(v)
		return &f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

// AsString coerces a parsed JSON value to a string, returning "" for
// missing or null values.
func AsString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
