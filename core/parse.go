package core

import (
	"context"
)

// parse checks the syntax of a statement without running it.
func (c *Console) parse(ctx context.Context, sess *modalSession, req QueryRequest) (*Result, error) {
	if err := checkSyntax(ctx, sess, req.Query); err != nil {
		return nil, err
	}
	return &Result{Action: ActionParse, Message: "Syntax is valid."}, nil
}

func checkSyntax(ctx context.Context, sess *modalSession, query string) error {
	err := sess.withMode(ctx, ModeParseOnly, func(ctx context.Context) error {
		return sess.Exec(ctx, query)
	})
	if err != nil {
		return classifyError(ErrSyntax, err)
	}
	return nil
}
