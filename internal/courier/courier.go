package courier

import (
	"errors"
	"strings"
)

// Code identifies a shipping carrier as understood by the tracking provider.
type Code string

const (
	JNE     Code = "jne"
	JNT     Code = "jnt"
	SiCepat Code = "sicepat"
	Ninja   Code = "ninja"
	POS     Code = "pos"
	SPX     Code = "spx"
	IDE     Code = "ide"

	// Unknown marks results whose carrier could not be resolved because the lookup failed.
	Unknown Code = "unknown"

	// Default is returned by inference when no rule matches.
	Default = JNE
)

// ErrUnsupported is returned by Parse for carrier names outside the known set.
var ErrUnsupported = errors.New("courier: unsupported carrier")

var known = map[Code]string{
	JNE:     "JNE Express",
	JNT:     "J&T Express",
	SiCepat: "SiCepat Ekspres",
	Ninja:   "Ninja Xpress",
	POS:     "POS Indonesia",
	SPX:     "Shopee Express",
	IDE:     "ID Express",
}

// String implements fmt.Stringer.
func (c Code) String() string { return string(c) }

// Name returns the display name of the carrier.
func (c Code) Name() string {
	if name, ok := known[c]; ok {
		return name
	}
	return "Unknown"
}

// Known reports whether the code belongs to the supported carrier set.
func (c Code) Known() bool {
	_, ok := known[c]
	return ok
}

// Parse normalises a user supplied carrier hint. Common aliases such as "j&t"
// or "ninjavan" are accepted.
func Parse(value string) (Code, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case "j&t", "jt", "j&t express":
		return JNT, nil
	case "ninjavan", "ninja xpress":
		return Ninja, nil
	case "posindonesia", "pos indonesia":
		return POS, nil
	case "shopee", "shopee express", "spxid":
		return SPX, nil
	case "idexpress", "id express":
		return IDE, nil
	}
	code := Code(v)
	if !code.Known() {
		return "", ErrUnsupported
	}
	return code, nil
}

// All returns the supported carriers in a stable order.
func All() []Code {
	return []Code{JNE, JNT, SiCepat, Ninja, POS, SPX, IDE}
}
