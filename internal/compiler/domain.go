// Package compiler turns authored CUE domain configurations into
// compiled model.Domain values with expression trees ready for the
// evaluator. It drives the CUE SDK's Go API directly, never the CLI.
package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/lumehq/reflex/internal/expr"
	"github.com/lumehq/reflex/internal/merge"
	"github.com/lumehq/reflex/internal/model"
)

// CompileDomain parses one CUE domain struct into a Domain. The value's
// label is the domain id, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`domain: cases: { ... }`)
//	d, err := CompileDomain(v.LookupPath(cue.ParsePath("domain.cases")))
//
// Expressions are authored as tagged envelopes (op + node) and decoded
// through the expr codec, so the CUE surface and the persisted form
// stay identical.
func CompileDomain(v cue.Value) (*model.Domain, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	d := &model.Domain{}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		d.DomainID = strings.Trim(labels[len(labels)-1].String(), `"`)
	}

	var err error
	if d.TenantID, err = requiredString(v, "tenant"); err != nil {
		return nil, err
	}
	if d.Version, err = requiredString(v, "version"); err != nil {
		return nil, err
	}

	if d.Trigger, err = parseTrigger(v); err != nil {
		return nil, err
	}
	if d.Fields, err = parseFields(v); err != nil {
		return nil, err
	}
	if d.Permissions, err = parsePermissions(v); err != nil {
		return nil, err
	}

	if errs := d.Validate(); len(errs) > 0 {
		return nil, &CompileError{
			Field:   errs[0].Field,
			Message: errs[0].Message,
			Pos:     v.Pos(),
		}
	}

	return d, nil
}

func parseTrigger(v cue.Value) (model.Trigger, error) {
	triggerVal := v.LookupPath(cue.ParsePath("trigger"))
	if !triggerVal.Exists() {
		return model.Trigger{}, &CompileError{
			Field:   "trigger",
			Message: "trigger is required",
			Pos:     v.Pos(),
		}
	}

	t := model.Trigger{}

	var err error
	if t.EventType, err = requiredString(triggerVal, "event_type"); err != nil {
		return t, err
	}
	if t.Condition, err = requiredExpr(triggerVal, "condition"); err != nil {
		return t, err
	}
	if t.Emit, err = requiredExpr(triggerVal, "emit"); err != nil {
		return t, err
	}
	if t.ContextKey, err = requiredExpr(triggerVal, "context_key"); err != nil {
		return t, err
	}

	return t, nil
}

// parseFields walks the fields struct in declaration order; each label
// is the field id.
func parseFields(v cue.Value) ([]model.Field, error) {
	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return nil, &CompileError{
			Field:   "fields",
			Message: "at least one field is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := fieldsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var fields []model.Field
	for iter.Next() {
		f, err := parseField(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}

	if len(fields) == 0 {
		return nil, &CompileError{
			Field:   "fields",
			Message: "at least one field is required",
			Pos:     fieldsVal.Pos(),
		}
	}
	return fields, nil
}

func parseField(id string, v cue.Value) (model.Field, error) {
	f := model.Field{ID: id}
	prefix := "fields." + id

	ft, err := parseFieldType(v.LookupPath(cue.ParsePath("type")), prefix+".type")
	if err != nil {
		return f, err
	}
	f.Type = ft

	if f.Version, err = requiredString(v, "version"); err != nil {
		return f, err
	}
	if f.MergePolicies, err = parseMergePolicies(v, prefix); err != nil {
		return f, err
	}

	if f.AutomaticValue, err = optionalExpr(v, "automatic_value"); err != nil {
		return f, err
	}
	if f.Condition, err = optionalExpr(v, "condition"); err != nil {
		return f, err
	}
	if f.Readable, err = optionalExpr(v, "readable"); err != nil {
		return f, err
	}
	if f.Writable, err = optionalExpr(v, "writable"); err != nil {
		return f, err
	}

	optionsVal := v.LookupPath(cue.ParsePath("options"))
	if optionsVal.Exists() {
		if err := optionsVal.Decode(&f.Options); err != nil {
			return f, formatCUEError(err)
		}
	}

	return f, nil
}

func parseFieldType(v cue.Value, path string) (model.FieldType, error) {
	if !v.Exists() {
		return model.FieldType{}, &CompileError{
			Field:   path,
			Message: "type is required",
			Pos:     v.Pos(),
		}
	}

	// Shorthand: `type: "string"` instead of `type: {kind: "string"}`.
	if kind, err := v.String(); err == nil {
		return model.FieldType{Kind: kind}, nil
	}

	kindVal := v.LookupPath(cue.ParsePath("kind"))
	kind, err := kindVal.String()
	if err != nil {
		return model.FieldType{}, &CompileError{
			Field:   path + ".kind",
			Message: "kind must be a string",
			Pos:     v.Pos(),
		}
	}
	ft := model.FieldType{Kind: kind}

	elemVal := v.LookupPath(cue.ParsePath("elem"))
	if elemVal.Exists() {
		elem, err := parseFieldType(elemVal, path+".elem")
		if err != nil {
			return ft, err
		}
		ft.Elem = &elem
	}
	return ft, nil
}

func parseMergePolicies(v cue.Value, prefix string) (merge.Policies, error) {
	mpVal := v.LookupPath(cue.ParsePath("merge_policies"))
	if !mpVal.Exists() {
		return merge.Policies{}, &CompileError{
			Field:   prefix + ".merge_policies",
			Message: "merge_policies is required",
			Pos:     v.Pos(),
		}
	}

	var p merge.Policies
	if err := mpVal.Decode(&p); err != nil {
		return p, formatCUEError(err)
	}
	if err := p.Validate(); err != nil {
		return p, &CompileError{
			Field:   prefix + ".merge_policies",
			Message: err.Error(),
			Pos:     mpVal.Pos(),
		}
	}
	return p, nil
}

func parsePermissions(v cue.Value) (model.Permissions, error) {
	p := model.Permissions{}
	permVal := v.LookupPath(cue.ParsePath("permissions"))
	if !permVal.Exists() {
		return p, nil
	}

	var err error
	if p.CanAccessProxies, err = optionalExpr(permVal, "can_access_proxies"); err != nil {
		return p, err
	}
	if p.CanAccessProxyDetails, err = optionalExpr(permVal, "can_access_proxy_details"); err != nil {
		return p, err
	}
	if p.CanEditProxy, err = optionalExpr(permVal, "can_edit_proxy"); err != nil {
		return p, err
	}
	return p, nil
}

func requiredString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{
			Field:   field,
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func requiredExpr(v cue.Value, field string) (expr.Expr, error) {
	e, err := optionalExpr(v, field)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, &CompileError{
			Field:   field,
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	return e, nil
}

// optionalExpr decodes a tagged expression envelope. The CUE value is
// exported to JSON and handed to the expr codec, so the compiler never
// duplicates the envelope grammar.
func optionalExpr(v cue.Value, field string) (expr.Expr, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return nil, nil
	}

	data, err := fv.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}

	e, err := expr.UnmarshalExpr(data)
	if err != nil {
		return nil, &CompileError{
			Field:   field,
			Message: err.Error(),
			Pos:     fv.Pos(),
		}
	}
	return e, nil
}

// CompileError is a compilation failure with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE's aggregate errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := cueerrors.Positions(first)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
