// Package coretest provides in-memory fakes of the core connection
// interfaces for tests.
package coretest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	mssql "github.com/microsoft/go-mssqldb"

	"github.com/sqlops/sqlconsole/core"
)

// Kind restricts a Rule to Exec or Query calls. Empty matches both.
type Kind string

const (
	KindExec  Kind = "exec"
	KindQuery Kind = "query"
)

// Rule scripts the outcome of a statement. Match is a case-insensitive
// substring of the statement text; an empty Match matches everything.
type Rule struct {
	Kind     Kind
	Match    string
	Sets     []core.ResultSet
	Messages []core.Message
	Err      error

	// Queued reports Err the way go-mssqldb reports engine errors when
	// messages are read from the queue: the listener gets it as an error
	// message after Messages, and Query returns it together with Sets.
	Queued bool
}

func (r Rule) matches(kind Kind, query string) bool {
	if r.Kind != "" && r.Kind != kind {
		return false
	}
	return r.Match == "" || strings.Contains(strings.ToLower(query), strings.ToLower(r.Match))
}

// Call is a recorded statement.
type Call struct {
	Kind  Kind
	Query string
	Args  []any
}

// Session is a scripted core.Session. Rules are checked in order and the
// first match wins; statements without a matching rule succeed with no
// result sets.
type Session struct {
	mu     sync.Mutex
	Server string
	Rules  []Rule
	calls  []Call
	closed bool
}

func (s *Session) Exec(ctx context.Context, query string, args ...any) error {
	r := s.record(KindExec, query, args)
	return r.Err
}

func (s *Session) Query(ctx context.Context, query string, l core.MessageListener, args ...any) ([]core.ResultSet, error) {
	r := s.record(KindQuery, query, args)
	if l != nil {
		for _, m := range r.Messages {
			l.OnMessage(m)
		}
	}
	if r.Err == nil {
		return r.Sets, nil
	}
	if !r.Queued {
		return nil, r.Err
	}
	if l != nil {
		l.OnMessage(queuedMessage(r.Err))
	}
	return r.Sets, r.Err
}

func queuedMessage(err error) core.Message {
	var me mssql.Error
	if errors.As(err, &me) {
		return core.Message{Text: me.Message, Number: me.Number, Class: me.Class, State: me.State, Line: me.LineNo}
	}
	return core.Message{Text: err.Error(), Class: 16}
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Calls returns the recorded statements in order.
func (s *Session) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Statements returns the text of every recorded statement.
func (s *Session) Statements() []string {
	var out []string
	for _, c := range s.Calls() {
		out = append(out, c.Query)
	}
	return out
}

func (s *Session) record(kind Kind, query string, args []any) Rule {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{Kind: kind, Query: query, Args: args})
	for _, r := range s.Rules {
		if r.matches(kind, query) {
			return r
		}
	}
	return Rule{}
}

// Opener is a scripted core.Opener. Each server gets one Session that is
// reused across opens so tests can inspect what ran on it.
type Opener struct {
	mu       sync.Mutex
	rules    map[string][]Rule
	errs     map[string]error
	sessions map[string]*Session
	opened   []string
}

func NewOpener() *Opener {
	return &Opener{
		rules:    map[string][]Rule{},
		errs:     map[string]error{},
		sessions: map[string]*Session{},
	}
}

// On adds rules for statements run against server.
func (o *Opener) On(server string, rules ...Rule) *Opener {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rules[strings.ToLower(server)] = append(o.rules[strings.ToLower(server)], rules...)
	return o
}

// Fail makes every open of server return err.
func (o *Opener) Fail(server string, err error) *Opener {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs[strings.ToLower(server)] = err
	return o
}

func (o *Opener) Open(ctx context.Context, server, database string) (core.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := strings.ToLower(server)
	o.opened = append(o.opened, server)
	if err := o.errs[key]; err != nil {
		return nil, err
	}

	s, ok := o.sessions[key]
	if !ok {
		s = &Session{Server: server, Rules: o.rules[key]}
		o.sessions[key] = s
	}
	return s, nil
}

// Opened returns every server name passed to Open, in order.
func (o *Opener) Opened() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.opened...)
}

// Session returns the session opened for server, or nil.
func (o *Opener) Session(server string) *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[strings.ToLower(server)]
}

// Resolver is a static core.EnvironmentResolver. Servers missing from
// Labels resolve to core.ErrEnvironmentNotFound.
type Resolver struct {
	mu     sync.Mutex
	Labels map[string]string
	Err    error
	calls  int
}

func (r *Resolver) Resolve(ctx context.Context, server string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++
	if r.Err != nil {
		return "", r.Err
	}
	if l, ok := r.Labels[strings.ToLower(server)]; ok {
		return l, nil
	}
	return "", &core.Error{
		Kind:    core.ErrEnvironmentNotFound,
		Message: fmt.Sprintf("Server '%s' not found in inventory", server),
	}
}

// Calls returns the number of Resolve calls.
func (r *Resolver) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// Set builds a result set from column names and rows of values.
func Set(cols []string, rows ...[]any) core.ResultSet {
	rs := core.ResultSet{Columns: cols, Rows: []core.Row{}}
	for _, vals := range rows {
		rs.Rows = append(rs.Rows, core.NewRow(cols, vals))
	}
	return rs
}

// ErrUnreachable is a generic connection failure.
var ErrUnreachable = errors.New("dial tcp: connection refused")
