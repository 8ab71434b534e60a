package model

import (
	"encoding/json"
	"fmt"

	"github.com/lumehq/reflex/internal/expr"
	"github.com/lumehq/reflex/internal/merge"
)

// Domain is a tenant-scoped configuration unit: one trigger, an ordered
// list of field definitions, and the permission expressions evaluated by
// outer layers. Immutable once loaded for a given version.
type Domain struct {
	DomainID string  `json:"domain_id"`
	TenantID string  `json:"tenant_id"`
	Version  string  `json:"version"`
	Trigger  Trigger `json:"trigger"`
	Fields   []Field `json:"fields"`

	Permissions Permissions `json:"permissions"`
}

// Permissions holds the domain's access expressions. The core compiles
// and stores them; evaluation belongs to the authorization boundary.
type Permissions struct {
	CanAccessProxies      expr.Expr `json:"-"`
	CanAccessProxyDetails expr.Expr `json:"-"`
	CanEditProxy          expr.Expr `json:"-"`
}

// Trigger decides when and how a domain spawns a proxy from an event.
type Trigger struct {
	// EventType is matched against the inbound event's source tag.
	EventType string `json:"event_type"`

	// Condition gates proxy creation. False means zero writes.
	Condition expr.Expr `json:"-"`

	// Emit computes the context object snapshot captured on the proxy.
	Emit expr.Expr `json:"-"`

	// ContextKey computes the proxy's natural key within the domain.
	ContextKey expr.Expr `json:"-"`
}

// FieldType enumerates the supported field value types. Object and list
// types recurse through Elem.
type FieldType struct {
	Kind string     `json:"kind"`
	Elem *FieldType `json:"elem,omitempty"`
}

// Supported FieldType kinds.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeDate    = "date"
	TypeEnum    = "enum"
	TypeObject  = "object"
	TypeList    = "list"
)

var validFieldKinds = map[string]bool{
	TypeString:  true,
	TypeNumber:  true,
	TypeBoolean: true,
	TypeDate:    true,
	TypeEnum:    true,
	TypeObject:  true,
	TypeList:    true,
}

// Field is one dynamic-field definition within a domain.
type Field struct {
	ID   string    `json:"id"`
	Type FieldType `json:"type"`

	// Readable/Writable gate access; evaluated by outer layers.
	Readable expr.Expr `json:"-"`
	Writable expr.Expr `json:"-"`

	// AutomaticValue is the seed expression for the field's graph node.
	AutomaticValue expr.Expr `json:"-"`

	// Condition, when present and false, makes the field inapplicable:
	// the worker excludes it from write-back.
	Condition expr.Expr `json:"-"`

	// Options lists the allowed values for enum-typed fields, bound
	// under the "options" scope name during evaluation.
	Options []any `json:"options,omitempty"`

	MergePolicies merge.Policies `json:"merge_policies"`

	// Version advances monotonically on the authoring side and drives
	// OVERWRITE resolution.
	Version string `json:"version"`
}

// ValidationError reports one configuration problem with a field path.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a domain configuration. Returns all errors rather
// than failing fast so authors see every problem at once.
func (d *Domain) Validate() []ValidationError {
	var errs []ValidationError

	if d.DomainID == "" {
		errs = append(errs, ValidationError{Field: "domain_id", Message: "required"})
	}
	if d.Trigger.EventType == "" {
		errs = append(errs, ValidationError{Field: "trigger.event_type", Message: "required"})
	}
	if d.Trigger.Condition == nil {
		errs = append(errs, ValidationError{Field: "trigger.condition", Message: "required"})
	}
	if d.Trigger.Emit == nil {
		errs = append(errs, ValidationError{Field: "trigger.emit", Message: "required"})
	}
	if d.Trigger.ContextKey == nil {
		errs = append(errs, ValidationError{Field: "trigger.context_key", Message: "required"})
	}

	seen := make(map[string]bool, len(d.Fields))
	for i, f := range d.Fields {
		prefix := fmt.Sprintf("fields[%d]", i)
		if f.ID == "" {
			errs = append(errs, ValidationError{Field: prefix + ".id", Message: "required"})
		}
		if seen[f.ID] {
			errs = append(errs, ValidationError{
				Field:   prefix + ".id",
				Message: fmt.Sprintf("duplicate field id %q", f.ID),
			})
		}
		seen[f.ID] = true

		errs = append(errs, f.Type.validate(prefix+".type")...)

		if f.Version == "" {
			errs = append(errs, ValidationError{Field: prefix + ".version", Message: "required"})
		}
		if err := f.MergePolicies.Validate(); err != nil {
			errs = append(errs, ValidationError{Field: prefix + ".merge_policies", Message: err.Error()})
		}
		if f.Type.Kind == TypeEnum && len(f.Options) == 0 {
			errs = append(errs, ValidationError{Field: prefix + ".options", Message: "enum field requires options"})
		}
	}

	return errs
}

func (ft FieldType) validate(path string) []ValidationError {
	var errs []ValidationError
	if !validFieldKinds[ft.Kind] {
		errs = append(errs, ValidationError{
			Field:   path,
			Message: fmt.Sprintf("invalid type %q", ft.Kind),
		})
		return errs
	}
	switch ft.Kind {
	case TypeObject, TypeList:
		if ft.Elem != nil {
			errs = append(errs, ft.Elem.validate(path+".elem")...)
		}
	default:
		if ft.Elem != nil {
			errs = append(errs, ValidationError{Field: path + ".elem", Message: "only object and list types recurse"})
		}
	}
	return errs
}

// FieldByID returns the field definition for id, or nil.
func (d *Domain) FieldByID(id string) *Field {
	for i := range d.Fields {
		if d.Fields[i].ID == id {
			return &d.Fields[i]
		}
	}
	return nil
}

// domainWire is the persisted form of a Domain. Expressions are stored
// in their tagged envelope encoding.
type domainWire struct {
	DomainID string      `json:"domain_id"`
	TenantID string      `json:"tenant_id"`
	Version  string      `json:"version"`
	Trigger  triggerWire `json:"trigger"`
	Fields   []Field     `json:"fields"`

	CanAccessProxies      json.RawMessage `json:"can_access_proxies,omitempty"`
	CanAccessProxyDetails json.RawMessage `json:"can_access_proxy_details,omitempty"`
	CanEditProxy          json.RawMessage `json:"can_edit_proxy,omitempty"`
}

type triggerWire struct {
	EventType  string          `json:"event_type"`
	Condition  json.RawMessage `json:"condition"`
	Emit       json.RawMessage `json:"emit"`
	ContextKey json.RawMessage `json:"context_key"`
}

type fieldWire struct {
	ID             string          `json:"id"`
	Type           FieldType       `json:"type"`
	Readable       json.RawMessage `json:"readable,omitempty"`
	Writable       json.RawMessage `json:"writable,omitempty"`
	AutomaticValue json.RawMessage `json:"automatic_value,omitempty"`
	Condition      json.RawMessage `json:"condition,omitempty"`
	Options        []any           `json:"options,omitempty"`
	MergePolicies  merge.Policies  `json:"merge_policies"`
	Version        string          `json:"version"`
}

// MarshalJSON persists the domain with envelope-encoded expressions.
func (d Domain) MarshalJSON() ([]byte, error) {
	wire := domainWire{
		DomainID: d.DomainID,
		TenantID: d.TenantID,
		Version:  d.Version,
		Trigger: triggerWire{
			EventType: d.Trigger.EventType,
		},
	}

	var err error
	if wire.Trigger.Condition, err = marshalOptionalExpr(d.Trigger.Condition); err != nil {
		return nil, fmt.Errorf("marshal trigger condition: %w", err)
	}
	if wire.Trigger.Emit, err = marshalOptionalExpr(d.Trigger.Emit); err != nil {
		return nil, fmt.Errorf("marshal trigger emit: %w", err)
	}
	if wire.Trigger.ContextKey, err = marshalOptionalExpr(d.Trigger.ContextKey); err != nil {
		return nil, fmt.Errorf("marshal trigger context key: %w", err)
	}
	if wire.CanAccessProxies, err = marshalOptionalExpr(d.Permissions.CanAccessProxies); err != nil {
		return nil, fmt.Errorf("marshal canAccessProxies: %w", err)
	}
	if wire.CanAccessProxyDetails, err = marshalOptionalExpr(d.Permissions.CanAccessProxyDetails); err != nil {
		return nil, fmt.Errorf("marshal canAccessProxyDetails: %w", err)
	}
	if wire.CanEditProxy, err = marshalOptionalExpr(d.Permissions.CanEditProxy); err != nil {
		return nil, fmt.Errorf("marshal canEditProxy: %w", err)
	}

	wire.Fields = d.Fields

	return json.Marshal(wire)
}

// MarshalJSON persists a field definition with envelope-encoded
// expressions.
func (f Field) MarshalJSON() ([]byte, error) {
	fw := fieldWire{
		ID:            f.ID,
		Type:          f.Type,
		Options:       f.Options,
		MergePolicies: f.MergePolicies,
		Version:       f.Version,
	}

	var err error
	if fw.Readable, err = marshalOptionalExpr(f.Readable); err != nil {
		return nil, fmt.Errorf("marshal field %s readable: %w", f.ID, err)
	}
	if fw.Writable, err = marshalOptionalExpr(f.Writable); err != nil {
		return nil, fmt.Errorf("marshal field %s writable: %w", f.ID, err)
	}
	if fw.AutomaticValue, err = marshalOptionalExpr(f.AutomaticValue); err != nil {
		return nil, fmt.Errorf("marshal field %s automatic value: %w", f.ID, err)
	}
	if fw.Condition, err = marshalOptionalExpr(f.Condition); err != nil {
		return nil, fmt.Errorf("marshal field %s condition: %w", f.ID, err)
	}

	return json.Marshal(fw)
}

// UnmarshalJSON restores a persisted field definition.
func (f *Field) UnmarshalJSON(data []byte) error {
	var fw fieldWire
	if err := json.Unmarshal(data, &fw); err != nil {
		return fmt.Errorf("decode field: %w", err)
	}

	f.ID = fw.ID
	f.Type = fw.Type
	f.Options = fw.Options
	f.MergePolicies = fw.MergePolicies
	f.Version = fw.Version

	var err error
	if f.Readable, err = unmarshalOptionalExpr(fw.Readable); err != nil {
		return fmt.Errorf("decode field %s readable: %w", fw.ID, err)
	}
	if f.Writable, err = unmarshalOptionalExpr(fw.Writable); err != nil {
		return fmt.Errorf("decode field %s writable: %w", fw.ID, err)
	}
	if f.AutomaticValue, err = unmarshalOptionalExpr(fw.AutomaticValue); err != nil {
		return fmt.Errorf("decode field %s automatic value: %w", fw.ID, err)
	}
	if f.Condition, err = unmarshalOptionalExpr(fw.Condition); err != nil {
		return fmt.Errorf("decode field %s condition: %w", fw.ID, err)
	}

	return nil
}

// UnmarshalJSON restores a persisted domain, decoding the expression
// envelopes back into AST nodes.
func (d *Domain) UnmarshalJSON(data []byte) error {
	var wire domainWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decode domain: %w", err)
	}

	d.DomainID = wire.DomainID
	d.TenantID = wire.TenantID
	d.Version = wire.Version
	d.Trigger = Trigger{EventType: wire.Trigger.EventType}

	var err error
	if d.Trigger.Condition, err = unmarshalOptionalExpr(wire.Trigger.Condition); err != nil {
		return fmt.Errorf("decode trigger condition: %w", err)
	}
	if d.Trigger.Emit, err = unmarshalOptionalExpr(wire.Trigger.Emit); err != nil {
		return fmt.Errorf("decode trigger emit: %w", err)
	}
	if d.Trigger.ContextKey, err = unmarshalOptionalExpr(wire.Trigger.ContextKey); err != nil {
		return fmt.Errorf("decode trigger context key: %w", err)
	}
	if d.Permissions.CanAccessProxies, err = unmarshalOptionalExpr(wire.CanAccessProxies); err != nil {
		return fmt.Errorf("decode canAccessProxies: %w", err)
	}
	if d.Permissions.CanAccessProxyDetails, err = unmarshalOptionalExpr(wire.CanAccessProxyDetails); err != nil {
		return fmt.Errorf("decode canAccessProxyDetails: %w", err)
	}
	if d.Permissions.CanEditProxy, err = unmarshalOptionalExpr(wire.CanEditProxy); err != nil {
		return fmt.Errorf("decode canEditProxy: %w", err)
	}

	d.Fields = wire.Fields

	return nil
}

func marshalOptionalExpr(e expr.Expr) (json.RawMessage, error) {
	if e == nil {
		return nil, nil
	}
	return expr.MarshalExpr(e)
}

func unmarshalOptionalExpr(data json.RawMessage) (expr.Expr, error) {
	if len(data) == 0 {
		return nil, nil
	}
	return expr.UnmarshalExpr(data)
}
