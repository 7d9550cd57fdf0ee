package trackers

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ResolvePath walks a decoded JSON value by dotted path. Segments address
// map keys, a [N] suffix indexes into a list, and [*] fans out across one,
// flattening the collected results. A bare numeric segment indexes a list
// too, so "data.0.id" and "data[0].id" are equivalent. The boolean reports
// whether the path resolved to a non-nil value.
func ResolvePath(data any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return data, data != nil
	}
	tokens, err := tokenizePath(path)
	if err != nil {
		return nil, false
	}
	return resolveTokens(data, tokens)
}

// PathString resolves a path and renders the value as a string. Missing
// paths and nil values report false.
func PathString(data any, path string) (string, bool) {
	value, ok := ResolvePath(data, path)
	if !ok {
		return "", false
	}
	return renderScalar(value), true
}

type pathTokenKind int

const (
	tokenKey pathTokenKind = iota
	tokenIndex
	tokenWildcard
)

type pathToken struct {
	kind  pathTokenKind
	key   string
	index int
}

func tokenizePath(path string) ([]pathToken, error) {
	var tokens []pathToken
	for _, segment := range strings.Split(path, ".") {
		name := segment
		brackets := ""
		if i := strings.IndexByte(segment, '['); i >= 0 {
			name, brackets = segment[:i], segment[i:]
		}
		if name == "" && brackets == "" {
			return nil, fmt.Errorf("empty segment in path %q", path)
		}
		if name != "" {
			tokens = append(tokens, pathToken{kind: tokenKey, key: name})
		}
		for brackets != "" {
			end := strings.IndexByte(brackets, ']')
			if brackets[0] != '[' || end < 1 {
				return nil, fmt.Errorf("malformed index in path %q", path)
			}
			inner := brackets[1:end]
			if inner == "*" {
				tokens = append(tokens, pathToken{kind: tokenWildcard})
			} else {
				n, err := strconv.Atoi(inner)
				if err != nil {
					return nil, fmt.Errorf("malformed index %q in path %q", inner, path)
				}
				tokens = append(tokens, pathToken{kind: tokenIndex, index: n})
			}
			brackets = brackets[end+1:]
		}
	}
	return tokens, nil
}

func resolveTokens(current any, tokens []pathToken) (any, bool) {
	for i, tok := range tokens {
		switch tok.kind {
		case tokenKey:
			switch c := current.(type) {
			case map[string]any:
				value, ok := c[tok.key]
				if !ok {
					return nil, false
				}
				current = value
			case []any:
				n, err := strconv.Atoi(tok.key)
				if err != nil || n < 0 || n >= len(c) {
					return nil, false
				}
				current = c[n]
			default:
				return nil, false
			}
		case tokenIndex:
			list, ok := current.([]any)
			if !ok || tok.index < 0 || tok.index >= len(list) {
				return nil, false
			}
			current = list[tok.index]
		case tokenWildcard:
			list, ok := current.([]any)
			if !ok {
				return nil, false
			}
			rest := tokens[i+1:]
			out := make([]any, 0, len(list))
			for _, elem := range list {
				value, found := resolveTokens(elem, rest)
				if !found {
					continue
				}
				if nested, isList := value.([]any); isList {
					out = append(out, nested...)
				} else {
					out = append(out, value)
				}
			}
			return out, true
		}
	}
	return current, current != nil
}

// renderScalar formats a resolved value for form fields and id extraction.
// JSON numbers that carry an integral value print without an exponent or
// trailing zeros.
func renderScalar(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// truthy interprets a resolved success flag. Unlike bare type assertion it
// treats "false", "0", and "no" strings as false, since JSON APIs disagree
// about boolean encoding.
func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		return s != "" && s != "false" && s != "0" && s != "no"
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}
