package core

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	defaultQueryTimeout   = 30 * time.Second
	defaultRestoreTimeout = time.Hour
)

var tracer = otel.Tracer("github.com/sqlops/sqlconsole/core")

// Action selects the handler for a query request.
type Action string

const (
	ActionExecute Action = "execute"
	ActionParse   Action = "parse"
	ActionPlan    Action = "plan"
)

// Config is the console configuration. It is copied by NewConsole and never
// changed afterwards.
type Config struct {
	// Timeout for execute, parse and plan actions. Defaults to 30s.
	QueryTimeout time.Duration

	// Timeout for RESTORE and BACKUP statements. Defaults to 1h.
	RestoreTimeout time.Duration

	// Environment labels that block statement execution. Defaults to PROD.
	ProductionLabels []string

	// Reject servers that are missing from the inventory.
	RequireRegistered bool

	// Default backup directory for the backup workflow.
	BackupDir string
}

// QueryRequest is a single console request.
type QueryRequest struct {
	Server   string
	Database string
	Query    string
	Action   Action
}

// Result is the outcome of a query request. On failure it may still be
// returned next to the error so the caller can show captured messages.
type Result struct {
	Action   Action
	Rows     []Row
	Messages []Message
	Message  string
	Plan     string
}

type handlerFunc func(ctx context.Context, sess *modalSession, req QueryRequest) (*Result, error)

// Console dispatches query requests to their handlers.
type Console struct {
	conf       Config
	opener     Opener
	env        EnvironmentResolver
	prodLabels productionLabels
	log        *zap.SugaredLogger
	handlers   map[Action]handlerFunc
	now        func() time.Time
}

// NewConsole creates a console. opener opens connections to target servers
// and env resolves their environment labels for the production guard.
func NewConsole(conf Config, opener Opener, env EnvironmentResolver, log *zap.SugaredLogger) *Console {
	if conf.QueryTimeout <= 0 {
		conf.QueryTimeout = defaultQueryTimeout
	}
	if conf.RestoreTimeout <= 0 {
		conf.RestoreTimeout = defaultRestoreTimeout
	}
	conf.ProductionLabels = append([]string(nil), conf.ProductionLabels...)

	if log == nil {
		log = zap.NewNop().Sugar()
	}

	c := &Console{
		conf:       conf,
		opener:     opener,
		env:        env,
		prodLabels: newProductionLabels(conf.ProductionLabels),
		log:        log,
		now:        time.Now,
	}
	c.handlers = map[Action]handlerFunc{
		ActionExecute: c.execute,
		ActionParse:   c.parse,
		ActionPlan:    c.plan,
	}
	return c
}

// ParseAction converts s into an Action. Matching is case-insensitive.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case ActionExecute, ActionParse, ActionPlan:
		return a, nil
	}
	return "", newError(ErrInvalidAction, nil, "Invalid action: '%s'. Expected execute, parse or plan", s)
}

// Query runs req. The action is validated first, then the production guard
// runs, and only then is a connection to the target server opened. The
// connection is closed on every path.
func (c *Console) Query(ctx context.Context, req QueryRequest) (res *Result, err error) {
	ctx, span := tracer.Start(ctx, "console.query")
	span.SetAttributes(
		attribute.String("sql.server", req.Server),
		attribute.String("sql.action", string(req.Action)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, ErrorMessage(err))
		}
		span.End()
	}()

	if req.Action, err = ParseAction(string(req.Action)); err != nil {
		return nil, err
	}
	h := c.handlers[req.Action]

	if strings.TrimSpace(req.Server) == "" {
		return nil, newError(ErrInvalidRequest, nil, "Server name is required")
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, newError(ErrInvalidRequest, nil, "Query is required")
	}

	if err := c.guard(ctx, req.Server); err != nil {
		return nil, err
	}

	timeout := c.conf.QueryTimeout
	if isLongRunning(req.Query) {
		timeout = c.conf.RestoreTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sess, err := c.opener.Open(ctx, req.Server, req.Database)
	if err != nil {
		return nil, classifyError(ErrConnect, err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			c.log.Warnf("close connection to %s: %s", req.Server, cerr)
		}
	}()

	start := time.Now()
	res, err = h(ctx, newModalSession(sess), req)
	c.log.Debugw("query handled",
		"server", req.Server,
		"action", req.Action,
		"duration", time.Since(start),
		"ok", err == nil)

	return res, err
}

// Environment returns the environment label recorded for server.
func (c *Console) Environment(ctx context.Context, server string) (string, error) {
	ctx, span := tracer.Start(ctx, "console.environment")
	defer span.End()

	if strings.TrimSpace(server) == "" {
		return "", newError(ErrInvalidRequest, nil, "Server name is required")
	}
	label, err := c.resolve(ctx, server)
	if err != nil {
		span.RecordError(err)
	}
	return label, err
}

// IsProduction reports whether label blocks statement execution.
func (c *Console) IsProduction(label string) bool {
	return c.prodLabels.has(label)
}
