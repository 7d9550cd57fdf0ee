package trackers

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"spool/internal/services"
)

var multiDotPattern = regexp.MustCompile(`\.{2,}`)

// SanitizeName runs the schema's ordered sanitize operations over a release
// name. A schema without sanitize ops returns the name unchanged.
func (s *Schema) SanitizeName(name string) string {
	for i := range s.Sanitize {
		name = applySanitizeOp(name, &s.Sanitize[i])
	}
	return name
}

func applySanitizeOp(name string, op *SanitizeOp) string {
	switch op.Type {
	case SanitizeReplaceSpaces:
		replacement := op.Replacement
		if replacement == "" {
			replacement = "."
		}
		return strings.ReplaceAll(name, " ", replacement)
	case SanitizeRemovePattern:
		if op.compiled == nil {
			return name
		}
		return op.compiled.ReplaceAllString(name, op.Replacement)
	case SanitizeCollapseDots:
		return multiDotPattern.ReplaceAllString(name, ".")
	case SanitizeStripDots:
		return strings.Trim(name, ".")
	case SanitizeMaxLength:
		if op.Length <= 0 {
			return name
		}
		runes := []rune(name)
		if len(runes) <= op.Length {
			return name
		}
		return string(runes[:op.Length])
	case SanitizeLowercase:
		return strings.ToLower(name)
	case SanitizeUppercase:
		return strings.ToUpper(name)
	default:
		return name
	}
}

// ValidateContext checks the assembled upload context against the schema's
// validation rules. All violations are collected into one terminal
// validation error so the operator sees the full list at once.
func (s *Schema) ValidateContext(context map[string]any) error {
	if len(s.Validation) == 0 {
		return nil
	}
	names := make([]string, 0, len(s.Validation))
	for name := range s.Validation {
		names = append(names, name)
	}
	sort.Strings(names)

	var violations []string
	for _, name := range names {
		rule := s.Validation[name]
		value, ok := ResolvePath(context, name)
		text := ""
		if ok {
			text = renderScalar(value)
		}
		if !ok || strings.TrimSpace(text) == "" {
			if rule.Required {
				violations = append(violations, fmt.Sprintf("%s is required", name))
			}
			continue
		}
		length := len([]rune(text))
		if rule.MinLength > 0 && length < rule.MinLength {
			violations = append(violations, fmt.Sprintf("%s shorter than %d characters", name, rule.MinLength))
		}
		if rule.MaxLength > 0 && length > rule.MaxLength {
			violations = append(violations, fmt.Sprintf("%s longer than %d characters", name, rule.MaxLength))
		}
		if rule.compiled != nil && !rule.compiled.MatchString(text) {
			violations = append(violations, fmt.Sprintf("%s does not match %s", name, rule.Pattern))
		}
	}
	if len(violations) == 0 {
		return nil
	}
	return services.Wrap(services.ErrValidation, s.Tracker.Slug, "validate", strings.Join(violations, "; "), nil)
}
