// Package target implements the canonical addressing scheme joining the
// dependency graph to entity accessors. A target names one field on one
// entity instance as `kind.{id}.path.segment...`.
//
// Encode/Decode form a total, injective, invertible mapping over the
// supported kinds. Decoding anything else yields the NotValid sentinel
// rather than an error, so callers can branch on it.
package target

import (
	"fmt"
	"strings"
)

// Kind identifies the entity namespace a target points into.
type Kind string

const (
	KindProxy          Kind = "proxy"
	KindCase           Kind = "case"
	KindFields         Kind = "fields"
	KindData           Kind = "data"
	KindRepresentation Kind = "representation"

	// KindNotValid is the sentinel returned by Decode for anything
	// outside the supported grammar.
	KindNotValid Kind = "NOT_VALID"
)

// Known reports whether k is a supported entity kind.
func (k Kind) Known() bool {
	switch k {
	case KindProxy, KindCase, KindFields, KindData, KindRepresentation:
		return true
	}
	return false
}

// Target is the structured form of a canonical address.
type Target struct {
	Kind Kind
	ID   string
	Path []string
}

// NotValid is the decoded form of any unrecognized address.
var NotValid = Target{Kind: KindNotValid}

// Valid reports whether t addresses a supported kind.
func (t Target) Valid() bool {
	return t.Kind.Known()
}

// String returns the canonical string form. For a NotValid target it
// returns the sentinel kind alone.
func (t Target) String() string {
	if !t.Valid() {
		return string(KindNotValid)
	}
	return Encode(t.Kind, t.ID, t.Path...)
}

// Encode builds the canonical string `kind.{id}.path...`. The braces
// around the id keep ids containing dots unambiguous, which is what
// makes the mapping invertible. The grammar requires a non-empty id
// without '}' and non-empty path segments without '.'; input outside
// that charset encodes to the NotValid sentinel so the round-trip law
// holds for every input.
func Encode(kind Kind, id string, path ...string) string {
	if !kind.Known() || id == "" || strings.ContainsRune(id, '}') {
		return string(KindNotValid)
	}
	for _, seg := range path {
		if seg == "" || strings.ContainsRune(seg, '.') {
			return string(KindNotValid)
		}
	}

	var sb strings.Builder
	sb.WriteString(string(kind))
	sb.WriteString(".{")
	sb.WriteString(id)
	sb.WriteString("}")
	for _, seg := range path {
		sb.WriteString(".")
		sb.WriteString(seg)
	}
	return sb.String()
}

// Decode parses a canonical address back into its structured form.
// Unknown kinds, missing braces, and empty ids all decode to NotValid
// rather than an error, so callers can branch without unwrapping.
func Decode(s string) Target {
	dot := strings.Index(s, ".")
	if dot <= 0 {
		return NotValid
	}

	kind := Kind(s[:dot])
	if !kind.Known() {
		return NotValid
	}

	rest := s[dot+1:]
	if !strings.HasPrefix(rest, "{") {
		return NotValid
	}
	closing := strings.Index(rest, "}")
	if closing < 0 {
		return NotValid
	}

	id := rest[1:closing]
	if id == "" {
		return NotValid
	}

	var path []string
	tail := rest[closing+1:]
	switch {
	case tail == "":
		// No field path; the target addresses the entity itself.
	case strings.HasPrefix(tail, "."):
		path = strings.Split(tail[1:], ".")
		for _, seg := range path {
			if seg == "" {
				return NotValid
			}
		}
	default:
		return NotValid
	}

	return Target{Kind: kind, ID: id, Path: path}
}

// ForProxyField addresses one dynamic field on a proxy.
func ForProxyField(proxyID, fieldID string) Target {
	return Target{Kind: KindProxy, ID: proxyID, Path: []string{"dynamicFields", fieldID}}
}

// FieldPath returns the dotted path below the entity, e.g.
// "dynamicFields.patientName". Empty when the target addresses the
// entity itself.
func (t Target) FieldPath() string {
	return strings.Join(t.Path, ".")
}

// GoString aids debugging output in logs and test failures.
func (t Target) GoString() string {
	return fmt.Sprintf("target.Target{Kind: %q, ID: %q, Path: %v}", t.Kind, t.ID, t.Path)
}
