// Package meta holds the rules of catalog metadata: key arity, key
// syntax and lenient value parsing.
package meta

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/jsonc"

	"github.com/Ning0612/ddb/internal/domain"
)

// Arity tells whether a key holds one record or a list of them.
type Arity int

const (
	// Singular keys hold exactly one record, written with Set
	Singular Arity = iota
	// Plural keys hold an ordered list of records, written with Add
	Plural
)

func (a Arity) String() string {
	if a == Plural {
		return "plural"
	}
	return "singular"
}

// ArityOf returns the arity of key: plural when it ends with 's' and is
// longer than one character.
func ArityOf(key string) Arity {
	if len(key) > 1 && strings.HasSuffix(key, "s") {
		return Plural
	}
	return Singular
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.:-]*$`)

// ValidateKey checks the key syntax.
func ValidateKey(op, key string) error {
	if key == "" {
		return domain.E(domain.KindValidation, op, "", "metadata key cannot be empty")
	}
	if !utf8.ValidString(key) || !keyPattern.MatchString(key) {
		return domain.E(domain.KindValidation, op, "", "invalid metadata key "+quote(key))
	}
	return nil
}

// CheckArity validates key and rejects it when its arity differs from want.
func CheckArity(op, key string, want Arity) error {
	if err := ValidateKey(op, key); err != nil {
		return err
	}
	if got := ArityOf(key); got != want {
		return domain.E(domain.KindValidation, op, "",
			"wrong key arity: "+quote(key)+" is "+got.String()+", expected "+want.String())
	}
	return nil
}

// ParseValue parses data as JSON with comments and trailing commas
// allowed. Text that still is not JSON is kept as a string value.
func ParseValue(op, data string) (domain.Value, error) {
	if strings.TrimSpace(data) == "" {
		return domain.Value{}, domain.E(domain.KindValidation, op, "", "metadata data cannot be empty")
	}
	if !utf8.ValidString(data) {
		return domain.Value{}, domain.E(domain.KindValidation, op, "", "metadata data is not valid UTF-8")
	}

	stripped := bytes.TrimSpace(jsonc.ToJSON([]byte(data)))
	var v domain.Value
	if len(stripped) > 0 {
		if err := v.UnmarshalJSON(stripped); err == nil {
			return v, nil
		}
	}
	return domain.String(data), nil
}

func quote(s string) string {
	return `"` + s + `"`
}
