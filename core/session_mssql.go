package core

import (
	"context"
	"database/sql"
	"errors"

	"github.com/golang-sql/sqlexp"
)

// sqlSession is a Session backed by a single pinned go-mssqldb connection.
type sqlSession struct {
	db   *sql.DB
	conn *sql.Conn
}

func (s *sqlSession) Exec(ctx context.Context, query string, args ...any) error {
	_, err := s.conn.ExecContext(ctx, query, args...)
	return err
}

// Query drives the driver's message queue so that PRINT output and raised
// errors reach the listener in the order the engine produced them. The
// driver reports engine errors only on the queue, so the first one is also
// returned once the batch has drained.
func (s *sqlSession) Query(
	ctx context.Context,
	query string,
	l MessageListener,
	args ...any,
) ([]ResultSet, error) {
	retmsg := &sqlexp.ReturnMessage{}

	rows, err := s.conn.QueryContext(ctx, query, append(args, retmsg)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sets, err := drainBatch(ctx, retmsg, func() (ResultSet, error) {
		return readResultSet(rows)
	}, rows.NextResultSet, l)
	if err != nil {
		return sets, err
	}
	return sets, rows.Err()
}

// messageQueue is the message side of a query run with
// sqlexp.ReturnMessage.
type messageQueue interface {
	Message(ctx context.Context) sqlexp.RawMessage
}

// drainBatch reads q until the batch ends. next scans the current result
// set and nextSet advances to the following one.
func drainBatch(
	ctx context.Context,
	q messageQueue,
	next func() (ResultSet, error),
	nextSet func() bool,
	l MessageListener,
) ([]ResultSet, error) {
	var (
		sets     []ResultSet
		firstErr error
	)
	for active := true; active; {
		if err := ctx.Err(); err != nil {
			return sets, err
		}

		switch m := q.Message(ctx).(type) {
		case sqlexp.MsgNotice:
			notify(l, noticeMessage(m.Message))
		case sqlexp.MsgError:
			notify(l, errorMessage(m.Error))
			if firstErr == nil {
				firstErr = m.Error
			}
		case sqlexp.MsgNext:
			rs, err := next()
			if err != nil {
				return sets, err
			}
			sets = append(sets, rs)
		case sqlexp.MsgNextResultSet:
			active = nextSet()
		case nil:
			active = false
		}
	}
	return sets, firstErr
}

func (s *sqlSession) Close() error {
	return errors.Join(s.conn.Close(), s.db.Close())
}

// readResultSet scans the current result set of rows.
func readResultSet(rows *sql.Rows) (ResultSet, error) {
	cols, err := rows.Columns()
	if err != nil {
		return ResultSet{}, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return ResultSet{}, err
	}

	rs := ResultSet{Columns: uniqueColumns(cols), Rows: []Row{}}

	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return rs, err
		}
		for i, v := range vals {
			vals[i] = normalizeValue(types[i].DatabaseTypeName(), v)
		}
		rs.Rows = append(rs.Rows, NewRow(rs.Columns, vals))
	}
	return rs, nil
}
