package core

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ShowPlanNamespace is the XML namespace of SQL Server showplan documents.
const ShowPlanNamespace = "http://schemas.microsoft.com/sqlserver/2004/07/showplan"

const showPlanRoot = "ShowPlanXML"

// statementElements are the plan nodes that describe a statement: simple
// statements and conditional (IF/ELSE) compound statements.
var statementElements = map[string]bool{
	"StmtSimple": true,
	"StmtCond":   true,
}

// plan validates a statement and returns its estimated execution plan.
func (c *Console) plan(ctx context.Context, sess *modalSession, req QueryRequest) (*Result, error) {
	if err := checkSyntax(ctx, sess, req.Query); err != nil {
		return nil, err
	}

	var doc string
	err := sess.withMode(ctx, ModeShowPlanXML, func(ctx context.Context) error {
		sets, err := sess.Query(ctx, req.Query, nil)
		if err != nil {
			return err
		}
		doc = planDocument(sets)
		return nil
	})
	if err != nil {
		return nil, classifyError(ErrExecution, err)
	}

	if err := ValidatePlan(doc); err != nil {
		return nil, err
	}
	return &Result{Action: ActionPlan, Plan: doc, Message: "Execution plan generated."}, nil
}

// planDocument returns the first value of the first row the engine sent
// back in showplan mode.
func planDocument(sets []ResultSet) string {
	for _, rs := range sets {
		for _, row := range rs.Rows {
			vals := row.Values()
			if len(vals) == 0 || vals[0] == nil {
				continue
			}
			switch v := vals[0].(type) {
			case string:
				return v
			case []byte:
				return string(v)
			default:
				return fmt.Sprint(v)
			}
		}
	}
	return ""
}

// ValidatePlan checks that doc is well formed XML with a ShowPlanXML root
// and at least one statement node in the showplan namespace.
func ValidatePlan(doc string) error {
	if strings.TrimSpace(doc) == "" {
		return newError(ErrPlanMissingElements, nil, "Invalid execution plan: no plan document was returned")
	}

	dec := xml.NewDecoder(strings.NewReader(doc))
	// Saved plans declare utf-16 but doc is already decoded text.
	dec.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }

	var rootOK, stmtOK, seenRoot bool

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return newError(ErrPlanInvalidXML, err, "Invalid execution plan XML: %s", err)
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if !seenRoot {
			seenRoot = true
			rootOK = se.Name.Local == showPlanRoot && se.Name.Space == ShowPlanNamespace
			continue
		}
		if se.Name.Space == ShowPlanNamespace && statementElements[se.Name.Local] {
			stmtOK = true
		}
	}

	if !seenRoot {
		return newError(ErrPlanInvalidXML, nil, "Invalid execution plan XML: document has no root element")
	}
	if !rootOK || !stmtOK {
		return newError(ErrPlanMissingElements, nil, "Invalid execution plan: missing required elements")
	}
	return nil
}
