package expr

// Standard scope binding names. Scopes are built per call site; the
// engine binds self to the entity under evaluation and the event/field
// context under the remaining names.
const (
	BindingSelf           = "self"
	BindingCurrentValues  = "currentValues"
	BindingPreviousValues = "previousValues"
	BindingMetadata       = "metadata"
	BindingOptions        = "options"
)

// Scope is the named-binding environment an expression evaluates
// against. A Scope is built per evaluation and never shared mutably:
// the constructor copies the binding map, and the evaluator only reads.
type Scope struct {
	bindings map[string]any
}

// NewScope builds a scope from the given bindings. The map is copied so
// later caller mutations cannot leak into an in-flight evaluation.
func NewScope(bindings map[string]any) Scope {
	copied := make(map[string]any, len(bindings))
	for k, v := range bindings {
		copied[k] = v
	}
	return Scope{bindings: copied}
}

// With returns a copy of the scope with one additional binding.
func (s Scope) With(name string, value any) Scope {
	copied := make(map[string]any, len(s.bindings)+1)
	for k, v := range s.bindings {
		copied[k] = v
	}
	copied[name] = value
	return Scope{bindings: copied}
}

// Lookup returns the binding for name, or (nil, false) if absent.
func (s Scope) Lookup(name string) (any, bool) {
	v, ok := s.bindings[name]
	return v, ok
}

// Self returns the evaluation subject, or nil when unbound.
func (s Scope) Self() any {
	return s.bindings[BindingSelf]
}
