package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// decodePayload parses the JSON object in a model reply. Replies wrapped in
// code fences or surrounding prose are reduced to their outermost {...}
// region before a second attempt.
func decodePayload(content string) (map[string]any, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, errors.New("empty payload")
	}

	obj, directErr := decodeObject(trimmed)
	if directErr == nil {
		return obj, nil
	}

	region := payloadRegion(trimmed)
	if region == "" || region == trimmed {
		return nil, fmt.Errorf("%w (payload snippet: %s)", directErr, snippet(trimmed))
	}
	obj, err := decodeObject(region)
	if err != nil {
		return nil, fmt.Errorf("%w (payload region snippet: %s)", err, snippet(region))
	}
	return obj, nil
}

func decodeObject(text string) (map[string]any, error) {
	v, err := jsonschema.UnmarshalJSON(strings.NewReader(text))
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("payload is %T, not an object", v)
	}
	return obj, nil
}

func payloadRegion(content string) string {
	body := stripFence(content)
	if body == "" {
		return ""
	}
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return body
	}
	return strings.TrimSpace(body[start : end+1])
}

func stripFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := strings.TrimLeft(trimmed[3:], " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = strings.TrimLeft(body[4:], " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

// snippet flattens whitespace and truncates content for error messages.
func snippet(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	if clean == "" {
		return "<empty>"
	}
	const limit = 160
	if runes := []rune(clean); len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return clean
}
