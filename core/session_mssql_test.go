package core

import (
	"context"
	"errors"
	"testing"

	"github.com/golang-sql/sqlexp"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedQueue replays driver messages in order, then reports the end of
// the batch.
type scriptedQueue []sqlexp.RawMessage

func (q *scriptedQueue) Message(ctx context.Context) sqlexp.RawMessage {
	if len(*q) == 0 {
		return nil
	}
	m := (*q)[0]
	*q = (*q)[1:]
	return m
}

type notice string

func (n notice) String() string { return string(n) }

var errInvalidView = mssql.Error{
	Number:  208,
	Class:   16,
	State:   1,
	Message: "Invalid object name 'dbo.vw_InstanceOverview'.",
}

func drainScripted(t *testing.T, l MessageListener, msgs ...sqlexp.RawMessage) ([]ResultSet, error) {
	t.Helper()
	q := scriptedQueue(msgs)
	set := ResultSet{Columns: []string{"x"}, Rows: []Row{NewRow([]string{"x"}, []any{int64(1)})}}
	return drainBatch(context.Background(), &q,
		func() (ResultSet, error) { return set, nil },
		func() bool { return false },
		l)
}

func TestDrainBatch_EngineErrorWithoutListener(t *testing.T) {
	sets, err := drainScripted(t, nil, sqlexp.MsgError{Error: errInvalidView}, sqlexp.MsgNextResultSet{})
	require.Error(t, err)

	var me mssql.Error
	require.True(t, errors.As(err, &me))
	assert.Equal(t, int32(208), me.Number)
	assert.Empty(t, sets)

	ce := classifyError(ErrInventoryUnavailable, err)
	assert.ErrorIs(t, ce, ErrObjectNotFound)
}

func TestDrainBatch_EngineErrorReachesListener(t *testing.T) {
	mc := &MessageCollector{}
	_, err := drainScripted(t, mc,
		sqlexp.MsgNotice{Message: notice("step one")},
		sqlexp.MsgError{Error: errInvalidView},
		sqlexp.MsgError{Error: mssql.Error{Number: 50000, Class: 16, Message: "later"}},
		sqlexp.MsgNextResultSet{})
	require.Error(t, err)
	assert.Equal(t, "mssql: "+errInvalidView.Message, err.Error())

	msgs := mc.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "step one", msgs[0].Text)
	assert.True(t, msgs[1].IsError())
	assert.Equal(t, int32(208), msgs[1].Number)
}

func TestDrainBatch_RowsAndNotices(t *testing.T) {
	mc := &MessageCollector{}
	sets, err := drainScripted(t, mc,
		sqlexp.MsgNotice{Message: notice("hello")},
		sqlexp.MsgNext{},
		sqlexp.MsgRowsAffected{Count: 1},
		sqlexp.MsgNextResultSet{})
	require.NoError(t, err)

	require.Len(t, sets, 1)
	assert.Equal(t, []string{"x"}, sets[0].Columns)
	assert.Equal(t, []Message{{Text: "hello"}}, mc.Messages())
}

func TestDrainBatch_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := scriptedQueue{sqlexp.MsgNext{}}
	_, err := drainBatch(ctx, &q,
		func() (ResultSet, error) { return ResultSet{}, nil },
		func() bool { return false },
		nil)
	assert.ErrorIs(t, err, context.Canceled)
}
