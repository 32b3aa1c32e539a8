package oracle

import "encoding/json"

// SchemaPredicate reports whether a parsed candidate object satisfies
// the expected response schema.
type SchemaPredicate func(raw json.RawMessage) bool

// Salvage recovers a JSON object from an oracle response that may
// contain surplus prose. Inputs no longer than threshold are returned
// unchanged. Otherwise every top-level balanced {...} substring is
// parsed and checked against the predicate; among valid candidates the
// one with the longest non-empty primaryArray wins. When nothing
// valid is found the original input is returned unchanged.
func Salvage(input string, threshold int, valid SchemaPredicate, primaryArray string) string {
	if len(input) <= threshold {
		return input
	}

	var best string
	bestLen := -1
	for _, candidate := range balancedObjects(input) {
		raw := json.RawMessage(candidate)
		if !json.Valid(raw) {
			continue
		}
		if valid != nil && !valid(raw) {
			continue
		}
		n := primaryArrayLen(raw, primaryArray)
		if n > bestLen {
			best, bestLen = candidate, n
		}
	}

	if bestLen < 0 {
		return input
	}
	return best
}

// balancedObjects scans for top-level balanced brace substrings,
// respecting JSON string literals and escapes.
func balancedObjects(s string) []string {
	var out []string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					out = append(out, s[start:i+1])
					start = -1
				}
			}
		}
	}
	return out
}

// primaryArrayLen returns the length of the named array field, or 0
// when the field is absent, empty, or not an array.
func primaryArrayLen(raw json.RawMessage, field string) int {
	if field == "" {
		return 0
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return 0
	}
	arrRaw, ok := obj[field]
	if !ok {
		return 0
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(arrRaw, &arr); err != nil {
		return 0
	}
	return len(arr)
}
