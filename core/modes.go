package core

import (
	"context"
	"fmt"
	"time"
)

// Mode is a session-wide statement handling mode.
type Mode int

const (
	ModeDefault Mode = iota
	ModeParseOnly
	ModeShowPlanXML
)

// revertTimeout bounds the statement that switches a mode back off. It runs
// even when the request context has already expired.
const revertTimeout = 10 * time.Second

func (m Mode) String() string {
	switch m {
	case ModeDefault:
		return "default"
	case ModeParseOnly:
		return "PARSEONLY"
	case ModeShowPlanXML:
		return "SHOWPLAN_XML"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m Mode) statement(on bool) string {
	v := "OFF"
	if on {
		v = "ON"
	}
	return "SET " + m.String() + " " + v
}

// modalSession tracks which mode a session is in. A mode is entered only
// from ModeDefault and is always switched back off when the scoped call
// returns. If switching back fails the session is marked broken and
// refuses any further work.
type modalSession struct {
	Session
	mode   Mode
	broken bool
}

func newModalSession(s Session) *modalSession {
	return &modalSession{Session: s}
}

func (s *modalSession) Mode() Mode { return s.mode }

func (s *modalSession) ready() error {
	if s.broken {
		return newError(ErrModeConflict, nil, "Connection is unusable: a session mode could not be reset")
	}
	return nil
}

// requireDefault fails unless the session is in ModeDefault.
func (s *modalSession) requireDefault() error {
	if err := s.ready(); err != nil {
		return err
	}
	if s.mode != ModeDefault {
		return newError(ErrModeConflict, nil, "Connection is in %s mode", s.mode)
	}
	return nil
}

// withMode runs fn with the session switched to mode m.
func (s *modalSession) withMode(ctx context.Context, m Mode, fn func(context.Context) error) (err error) {
	if m == ModeDefault {
		return fn(ctx)
	}
	if err := s.requireDefault(); err != nil {
		return err
	}

	if err := s.Exec(ctx, m.statement(true)); err != nil {
		return fmt.Errorf("enable %s: %w", m, err)
	}
	s.mode = m

	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), revertTimeout)
		defer cancel()

		if rerr := s.Exec(rctx, m.statement(false)); rerr != nil {
			s.broken = true
			if err == nil {
				err = fmt.Errorf("disable %s: %w", m, rerr)
			}
			return
		}
		s.mode = ModeDefault
	}()

	return fn(ctx)
}
