package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPlan = `<ShowPlanXML xmlns="http://schemas.microsoft.com/sqlserver/2004/07/showplan" Version="1.564" Build="16.0.1000.6">` +
	`<BatchSequence><Batch><Statements>` +
	`<StmtSimple StatementText="SELECT 1 AS x" StatementType="SELECT"><QueryPlan/></StmtSimple>` +
	`</Statements></Batch></BatchSequence></ShowPlanXML>`

func TestValidatePlan(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		kind error
	}{
		{"simple statement", testPlan, nil},
		{
			"declared utf-16",
			`<?xml version="1.0" encoding="utf-16"?>` + testPlan,
			nil,
		},
		{
			"conditional statement",
			`<ShowPlanXML xmlns="` + ShowPlanNamespace + `"><BatchSequence><Batch><Statements>` +
				`<StmtCond StatementText="IF 1 = 1"/></Statements></Batch></BatchSequence></ShowPlanXML>`,
			nil,
		},
		{
			"no statement node",
			`<ShowPlanXML xmlns="` + ShowPlanNamespace + `"><BatchSequence/></ShowPlanXML>`,
			ErrPlanMissingElements,
		},
		{
			"wrong root",
			`<Plan xmlns="` + ShowPlanNamespace + `"><StmtSimple/></Plan>`,
			ErrPlanMissingElements,
		},
		{
			"wrong namespace",
			`<ShowPlanXML xmlns="urn:other"><StmtSimple/></ShowPlanXML>`,
			ErrPlanMissingElements,
		},
		{"empty", "  ", ErrPlanMissingElements},
		{"truncated", `<ShowPlanXML xmlns="` + ShowPlanNamespace + `"><StmtSimple>`, ErrPlanInvalidXML},
		{
			"mismatched tags",
			`<ShowPlanXML xmlns="` + ShowPlanNamespace + `"><StmtSimple></ShowPlanXML>`,
			ErrPlanInvalidXML,
		},
		{"plain text", "not a plan", ErrPlanInvalidXML},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePlan(tt.doc)
			if tt.kind == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
		})
	}
}

func TestValidatePlan_MissingElementsMessage(t *testing.T) {
	err := ValidatePlan(`<ShowPlanXML xmlns="` + ShowPlanNamespace + `"/>`)
	require.Error(t, err)
	assert.Equal(t, "Invalid execution plan: missing required elements", err.Error())
}

func TestPlanDocument(t *testing.T) {
	cols := []string{"Microsoft SQL Server 2005 XML Showplan"}

	assert.Equal(t, testPlan, planDocument([]ResultSet{
		{Columns: cols, Rows: []Row{NewRow(cols, []any{testPlan})}},
	}))
	assert.Equal(t, testPlan, planDocument([]ResultSet{
		{Columns: cols, Rows: []Row{NewRow(cols, []any{nil}), NewRow(cols, []any{[]byte(testPlan)})}},
	}))
	assert.Equal(t, "", planDocument(nil))
}
