package core

import (
	"errors"
	"fmt"

	mssql "github.com/microsoft/go-mssqldb"
)

// errorSeverity is the lowest engine severity class treated as an error.
// Classes 0-10 are informational (PRINT output, status notices).
const errorSeverity = 11

// Message is an informational or error message emitted by the engine
// while a statement runs.
type Message struct {
	Text   string `json:"text"`
	Number int32  `json:"number,omitempty"`
	Class  uint8  `json:"severity,omitempty"`
	State  uint8  `json:"state,omitempty"`
	Line   int32  `json:"line,omitempty"`
	Proc   string `json:"procedure,omitempty"`
}

// IsError reports whether the message carries error-level severity.
func (m Message) IsError() bool {
	return m.Class >= errorSeverity
}

// String formats the message the way SSMS shows it in its messages tab.
func (m Message) String() string {
	if m.Number == 0 && !m.IsError() {
		return m.Text
	}
	return fmt.Sprintf("Msg %d, Level %d, State %d, Line %d\n%s",
		m.Number, m.Class, m.State, m.Line, m.Text)
}

// MessageListener receives engine messages for the duration of a single
// statement execution.
type MessageListener interface {
	OnMessage(Message)
}

// MessageListenerFunc adapts a function to the MessageListener interface.
type MessageListenerFunc func(Message)

func (f MessageListenerFunc) OnMessage(m Message) {
	f(m)
}

// MessageCollector is a MessageListener that keeps every message it sees.
type MessageCollector struct {
	msgs []Message
}

func (c *MessageCollector) OnMessage(m Message) {
	c.msgs = append(c.msgs, m)
}

// Messages returns the collected messages in arrival order. Never nil.
func (c *MessageCollector) Messages() []Message {
	if c.msgs == nil {
		return []Message{}
	}
	return c.msgs
}

// FirstError returns the first message with error-level severity.
func (c *MessageCollector) FirstError() (Message, bool) {
	for _, m := range c.msgs {
		if m.IsError() {
			return m, true
		}
	}
	return Message{}, false
}

func notify(l MessageListener, m Message) {
	if l != nil {
		l.OnMessage(m)
	}
}

func messageFromError(e mssql.Error) Message {
	return Message{
		Text:   e.Message,
		Number: e.Number,
		Class:  e.Class,
		State:  e.State,
		Line:   e.LineNo,
		Proc:   e.ProcName,
	}
}

// noticeMessage converts a driver notice into a Message.
func noticeMessage(s fmt.Stringer) Message {
	if s == nil {
		return Message{}
	}
	if e, ok := s.(mssql.Error); ok {
		return messageFromError(e)
	}
	return Message{Text: s.String()}
}

// errorMessage converts an error raised during a batch into a Message.
// Errors that did not come from the engine are reported at class 16.
func errorMessage(err error) Message {
	var me mssql.Error
	if errors.As(err, &me) {
		m := messageFromError(me)
		if m.Class < errorSeverity {
			m.Class = 16
		}
		return m
	}
	return Message{Text: err.Error(), Class: 16}
}
