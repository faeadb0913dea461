package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when a model reply holds no decodable JSON value.
var ErrNoJSON = errors.New("no valid JSON found in response")

// reasoningBlock matches reasoning sections some models emit before the answer.
var reasoningBlock = regexp.MustCompile(`(?is)<(?:think|thinking|reasoning)>.*?</(?:think|thinking|reasoning)>`)

// rankListKeys are the object fields accepted in place of a bare ranking array.
var rankListKeys = []string{"matches", "ranking", "indices", "results"}

// ExtractJSON returns the first complete JSON object or array in a model
// reply. Reasoning blocks, markdown fences and surrounding prose are skipped.
func ExtractJSON(response string) (string, error) {
	cleaned := reasoningBlock.ReplaceAllString(response, "")

	for i := 0; i < len(cleaned); i++ {
		if cleaned[i] != '{' && cleaned[i] != '[' {
			continue
		}
		var raw json.RawMessage
		if err := json.NewDecoder(strings.NewReader(cleaned[i:])).Decode(&raw); err == nil {
			return string(raw), nil
		}
	}
	return "", ErrNoJSON
}

// ParseRankList reads a ranking reply: either a bare array or an object
// carrying the array under one of rankListKeys. Elements are returned raw so
// callers can decode them leniently.
func ParseRankList(response string) ([]json.RawMessage, error) {
	jsonStr, err := ExtractJSON(response)
	if err != nil {
		return nil, err
	}

	var list []json.RawMessage
	if err := json.Unmarshal([]byte(jsonStr), &list); err == nil {
		return list, nil
	}

	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal([]byte(jsonStr), &wrapped); err != nil {
		return nil, fmt.Errorf("unmarshal ranking: %w", err)
	}
	for _, key := range rankListKeys {
		field, ok := wrapped[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(field, &list); err != nil {
			return nil, fmt.Errorf("ranking field %q: %w", key, err)
		}
		return list, nil
	}
	return nil, fmt.Errorf("ranking object has none of %s", strings.Join(rankListKeys, ", "))
}
