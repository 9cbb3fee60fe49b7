package llm

import (
	"fmt"
	"strings"
	"unicode"
)

type ValidationConfig struct {
	MaxLength    int
	BlockedWords []string
}

type ValidationResult struct {
	Valid     bool
	Errors    []string
	Warnings  []string
	CharCount int
}

// Validator runs content-safety and shape checks over generated text
// before it is allowed anywhere near the posting path.
type Validator struct {
	cfg     ValidationConfig
	blocked map[string]struct{}
}

func NewValidator(cfg ValidationConfig) *Validator {
	if cfg.MaxLength == 0 {
		cfg.MaxLength = 280
	}
	blocked := make(map[string]struct{}, len(cfg.BlockedWords))
	for _, w := range cfg.BlockedWords {
		blocked[strings.ToLower(w)] = struct{}{}
	}
	return &Validator{cfg: cfg, blocked: blocked}
}

func (v *Validator) Validate(text string) ValidationResult {
	res := ValidationResult{CharCount: len([]rune(text))}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		res.Errors = append(res.Errors, "content is empty")
	}

	if res.CharCount > v.cfg.MaxLength {
		res.Errors = append(res.Errors,
			fmt.Sprintf("content length %d exceeds maximum %d", res.CharCount, v.cfg.MaxLength))
	}

	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			res.Errors = append(res.Errors, "content contains control characters")
			break
		}
	}

	for _, token := range tokenizeWords(trimmed) {
		if _, hit := v.blocked[token]; hit {
			res.Errors = append(res.Errors, fmt.Sprintf("content contains blocked word %q", token))
		}
	}

	if strings.HasPrefix(trimmed, `"`) && strings.HasSuffix(trimmed, `"`) {
		res.Warnings = append(res.Warnings, "content is fully quoted")
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func tokenizeWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
