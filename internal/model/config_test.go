package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumehq/reflex/internal/expr"
	"github.com/lumehq/reflex/internal/merge"
)

func sampleDomain() Domain {
	return Domain{
		DomainID: "billing-cases",
		TenantID: "tenant-1",
		Version:  "3",
		Trigger: Trigger{
			EventType:  "cases-created",
			Condition:  &expr.Literal{Value: true},
			Emit:       &expr.Object{Fields: map[string]expr.Expr{"caseNumber": &expr.Dot{Source: &expr.Symbol{Name: expr.BindingCurrentValues}, Paths: []string{"caseNumber"}}}},
			ContextKey: &expr.Dot{Source: &expr.Symbol{Name: expr.BindingCurrentValues}, Paths: []string{"caseNumber"}},
		},
		Fields: []Field{
			{
				ID:             "patientName",
				Type:           FieldType{Kind: TypeString},
				AutomaticValue: &expr.Self{Paths: []string{"context", "patientName"}},
				MergePolicies:  merge.Policies{Horizontal: merge.HorizontalOverwrite, Vertical: merge.VerticalParent},
				Version:        "1",
			},
			{
				ID:            "priority",
				Type:          FieldType{Kind: TypeEnum},
				Options:       []any{"low", "high"},
				MergePolicies: merge.Policies{Horizontal: merge.HorizontalOverwrite, Vertical: merge.VerticalChild},
				Version:       "1",
			},
		},
	}
}

func TestDomainValidate_OK(t *testing.T) {
	d := sampleDomain()
	assert.Empty(t, d.Validate())
}

func TestDomainValidate_CollectsAllErrors(t *testing.T) {
	d := Domain{
		Fields: []Field{
			{ID: "", Type: FieldType{Kind: "float"}},
			{ID: "dup", Type: FieldType{Kind: TypeString}, Version: "1", MergePolicies: merge.Policies{Horizontal: merge.HorizontalOverwrite, Vertical: merge.VerticalParent}},
			{ID: "dup", Type: FieldType{Kind: TypeString}, Version: "1", MergePolicies: merge.Policies{Horizontal: merge.HorizontalOverwrite, Vertical: merge.VerticalParent}},
		},
	}

	errs := d.Validate()
	require.NotEmpty(t, errs)

	fields := make([]string, len(errs))
	for i, e := range errs {
		fields[i] = e.Field
	}
	assert.Contains(t, fields, "domain_id")
	assert.Contains(t, fields, "trigger.event_type")
	assert.Contains(t, fields, "fields[0].type")
	assert.Contains(t, fields, "fields[2].id")
}

func TestDomainValidate_EnumRequiresOptions(t *testing.T) {
	d := sampleDomain()
	d.Fields[1].Options = nil

	errs := d.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, "fields[1].options", errs[0].Field)
}

func TestDomainJSON_RoundTrip(t *testing.T) {
	d := sampleDomain()

	data, err := json.Marshal(d)
	require.NoError(t, err)

	var decoded Domain
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, d, decoded)
}

func TestFieldByID(t *testing.T) {
	d := sampleDomain()
	require.NotNil(t, d.FieldByID("priority"))
	assert.Nil(t, d.FieldByID("absent"))
}

func TestEventID_Deterministic(t *testing.T) {
	ev := ImportedEvent{
		Source:        "cases-created",
		SourceDocID:   "c-1",
		CurrentValues: map[string]any{"caseNumber": "C-100", "weight": 1.5},
		TenantID:      "tenant-1",
	}

	a, err := EventID(ev)
	require.NoError(t, err)
	b, err := EventID(ev)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	ev.CurrentValues["caseNumber"] = "C-101"
	c, err := EventID(ev)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestFieldOpType_Known(t *testing.T) {
	assert.True(t, FieldOpCreate.Known())
	assert.True(t, FieldOpUpdate.Known())
	assert.True(t, FieldOpDelete.Known())
	assert.False(t, FieldOpType("UPSERT").Known())
}
