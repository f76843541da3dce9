package core

import (
	"context"
	"fmt"
)

const objectExistsQuery = `SELECT OBJECT_ID(@p1) AS object_id`

// execute runs a statement and returns its first row set together with
// the engine messages it produced.
func (c *Console) execute(ctx context.Context, sess *modalSession, req QueryRequest) (*Result, error) {
	if err := sess.requireDefault(); err != nil {
		return nil, err
	}

	// RESTORE returns no result set and may run for a long time.
	if isRestore(req.Query) {
		if err := sess.Exec(ctx, req.Query); err != nil {
			return nil, classifyError(ErrExecution, err)
		}
		return &Result{
			Action:   ActionExecute,
			Rows:     []Row{},
			Messages: []Message{},
			Message:  "Restore completed successfully.",
		}, nil
	}

	if name, ok := extractObjectName(req.Query); ok {
		exists, err := objectExists(ctx, sess, name)
		if err != nil {
			return failedResult(nil), classifyError(ErrExecution, err)
		}
		if !exists {
			return failedResult(nil), newError(ErrObjectNotFound, nil, "Table or view does not exist: %s", name)
		}
	}

	mc := &MessageCollector{}
	sets, err := sess.Query(ctx, req.Query, mc)
	if err != nil {
		return failedResult(mc.Messages()), classifyError(ErrExecution, err)
	}

	// An error-level message fails the whole call even if rows came back.
	if m, ok := mc.FirstError(); ok {
		return failedResult(mc.Messages()), classifyMessage(ErrExecution, m, nil)
	}

	rows := firstRows(sets)
	msg := "Query executed successfully. No results returned."
	if len(rows) > 0 {
		msg = fmt.Sprintf("Query executed successfully. Returned %d rows.", len(rows))
	}

	return &Result{
		Action:   ActionExecute,
		Rows:     rows,
		Messages: mc.Messages(),
		Message:  msg,
	}, nil
}

func failedResult(msgs []Message) *Result {
	if msgs == nil {
		msgs = []Message{}
	}
	return &Result{Action: ActionExecute, Rows: []Row{}, Messages: msgs}
}

// objectExists checks the catalog for name.
func objectExists(ctx context.Context, sess Session, name string) (bool, error) {
	sets, err := sess.Query(ctx, objectExistsQuery, nil, name)
	if err != nil {
		return false, err
	}
	for _, rs := range sets {
		for _, row := range rs.Rows {
			if vals := row.Values(); len(vals) > 0 && vals[0] != nil {
				return true, nil
			}
		}
	}
	return false, nil
}

// firstRows returns the rows of the first result set that has columns.
func firstRows(sets []ResultSet) []Row {
	for _, rs := range sets {
		if len(rs.Columns) == 0 {
			continue
		}
		if rs.Rows == nil {
			return []Row{}
		}
		return rs.Rows
	}
	return []Row{}
}
