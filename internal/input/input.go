// Package input turns pasted free text into a list of tracking numbers.
package input

import (
	"errors"
	"fmt"
	"strings"
)

// Defaults applied by Parse.
const (
	DefaultMinLength = 8
	DefaultMaxItems  = 100
)

var (
	// ErrEmpty is returned when no usable tracking number remains.
	ErrEmpty = errors.New("input: no tracking numbers found")
	// ErrTooMany is returned when more than the allowed number of tracking numbers is supplied.
	ErrTooMany = errors.New("input: too many tracking numbers")
)

// Rules bound what Parse accepts. Zero values fall back to the defaults.
type Rules struct {
	MinLength int
	MaxItems  int
}

// Parsed is the outcome of Parse. Rejected holds tokens shorter than the
// minimum length, Duplicates holds repeated tokens, both in input order.
type Parsed struct {
	IDs        []string
	Rejected   []string
	Duplicates []string
}

// Parse splits text on newlines, commas and semicolons, trims each token,
// drops tokens shorter than the minimum length and removes duplicates while
// preserving first-seen order.
func Parse(text string, rules Rules) (Parsed, error) {
	return Normalise(strings.FieldsFunc(text, isSeparator), rules)
}

// Normalise applies the Parse rules to an already split list.
func Normalise(tokens []string, rules Rules) (Parsed, error) {
	rules = rules.withDefaults()
	var out Parsed
	seen := make(map[string]struct{}, len(tokens))
	for _, raw := range tokens {
		token := strings.TrimSpace(raw)
		if token == "" {
			continue
		}
		if len(token) < rules.MinLength {
			out.Rejected = append(out.Rejected, token)
			continue
		}
		key := strings.ToUpper(token)
		if _, dup := seen[key]; dup {
			out.Duplicates = append(out.Duplicates, token)
			continue
		}
		seen[key] = struct{}{}
		out.IDs = append(out.IDs, token)
	}
	if len(out.IDs) == 0 {
		return out, ErrEmpty
	}
	if len(out.IDs) > rules.MaxItems {
		return out, fmt.Errorf("%w: got %d, max %d", ErrTooMany, len(out.IDs), rules.MaxItems)
	}
	return out, nil
}

func (r Rules) withDefaults() Rules {
	if r.MinLength <= 0 {
		r.MinLength = DefaultMinLength
	}
	if r.MaxItems <= 0 {
		r.MaxItems = DefaultMaxItems
	}
	return r
}

func isSeparator(r rune) bool {
	switch r {
	case '\n', '\r', ',', ';':
		return true
	}
	return false
}
