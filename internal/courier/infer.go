package courier

import "strings"

// Rule maps an identifier format to a carrier. Match receives the trimmed,
// upper-cased identifier.
type Rule struct {
	Name    string
	Carrier Code
	Match   func(id string) bool
}

// DefaultRules is the ordered rule set used by Infer. Prefix rules come before
// the numeric length rules, and the exact 15 digit rule is evaluated before the
// broader 13+ digit rule so SiCepat numbers are not claimed by POS.
var DefaultRules = []Rule{
	{Name: "spx-prefix", Carrier: SPX, Match: hasPrefix("SPXID")},
	{Name: "ide-prefix", Carrier: IDE, Match: func(id string) bool {
		return strings.HasPrefix(id, "IDE") && len(id) > 3 && allDigits(id[3:])
	}},
	{Name: "jnt-prefix", Carrier: JNT, Match: hasPrefix("JP", "JD")},
	{Name: "ninja-prefix", Carrier: Ninja, Match: hasPrefix("NV")},
	{Name: "sicepat-15-digits", Carrier: SiCepat, Match: func(id string) bool {
		return len(id) == 15 && allDigits(id)
	}},
	{Name: "pos-13-plus-digits", Carrier: POS, Match: func(id string) bool {
		return len(id) >= 13 && allDigits(id)
	}},
	{Name: "jne-origin-code", Carrier: JNE, Match: func(id string) bool {
		return len(id) > 3 && allLetters(id[:3]) && allDigits(id[3:])
	}},
}

// Inferrer evaluates an ordered rule list; the first matching rule wins.
// It holds no mutable state and is safe for concurrent use.
type Inferrer struct {
	rules    []Rule
	fallback Code
}

var defaultInferrer = NewInferrer(DefaultRules, Default)

// NewInferrer builds an inferrer over a copy of rules. An empty fallback
// resolves to Default.
func NewInferrer(rules []Rule, fallback Code) *Inferrer {
	if fallback == "" {
		fallback = Default
	}
	copied := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Match == nil {
			continue
		}
		copied = append(copied, r)
	}
	return &Inferrer{rules: copied, fallback: fallback}
}

// Infer returns the most likely carrier for the identifier. It never fails.
func (in *Inferrer) Infer(id string) Code {
	code, _ := in.Explain(id)
	return code
}

// Explain returns the inferred carrier together with the name of the rule that
// matched, or "fallback".
func (in *Inferrer) Explain(id string) (Code, string) {
	normalised := strings.ToUpper(strings.TrimSpace(id))
	if normalised == "" {
		return in.fallback, "fallback"
	}
	for _, r := range in.rules {
		if r.Match(normalised) {
			return r.Carrier, r.Name
		}
	}
	return in.fallback, "fallback"
}

// Infer resolves the carrier using DefaultRules.
func Infer(id string) Code {
	return defaultInferrer.Infer(id)
}

func hasPrefix(prefixes ...string) func(string) bool {
	return func(id string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(id, p) {
				return true
			}
		}
		return false
	}
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func allLetters(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}
