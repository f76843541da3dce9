package serv

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sqlops/sqlconsole/core"
)

const maxBodyBytes = 1 << 20

type executeRequest struct {
	ServerName string `json:"serverName"`
	Database   string `json:"database,omitempty"`
	Query      string `json:"query"`
	Action     string `json:"action"`
}

type objectsRequest struct {
	ServerName string `json:"serverName"`
	ObjectType string `json:"objectType"`
	Context    struct {
		Database string `json:"database"`
		Table    string `json:"table"`
	} `json:"context"`
}

type environmentRequest struct {
	ServerName string `json:"serverName"`
}

type executeResponse struct {
	Results  []core.Row     `json:"results"`
	Messages []core.Message `json:"messages"`
	Message  string         `json:"message,omitempty"`
	Error    string         `json:"error,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type planResponse struct {
	Plan    string `json:"plan"`
	Message string `json:"message"`
}

type objectsResponse struct {
	Objects []core.DBObject `json:"objects"`
}

type environmentResponse struct {
	Environment  string `json:"environment"`
	IsProduction bool   `json:"isProduction"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// decodeBody reads a JSON request body of at most maxBodyBytes
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(v)
}

// statusFor maps a console error to an HTTP status. Statement outcomes,
// including SQL errors, are reported with 200 and an error body.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidAction),
		errors.Is(err, core.ErrInvalidRequest),
		errors.Is(err, core.ErrInvalidObjectType):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrProductionBlocked):
		return http.StatusForbidden
	case errors.Is(err, core.ErrEnvironmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrConnect),
		errors.Is(err, core.ErrInventoryUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	var ce *core.Error
	if errors.As(err, &ce) {
		return http.StatusOK
	}
	return http.StatusInternalServerError
}

// executeHandler runs an execute, parse or plan action
// POST /api/execute
func (s *Service) executeHandler(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	label := "invalid"
	if a, err := core.ParseAction(req.Action); err == nil {
		label = string(a)
	}

	res, err := s.console.Query(r.Context(), core.QueryRequest{
		Server:   req.ServerName,
		Database: req.Database,
		Query:    req.Query,
		Action:   core.Action(req.Action),
	})
	if err != nil {
		s.observeFailure(label, err)
		msg := core.ErrorMessage(err)

		if res != nil && res.Action == core.ActionExecute {
			writeJSON(w, statusFor(err), executeResponse{
				Results:  nonNil(res.Rows),
				Messages: nonNil(res.Messages),
				Error:    msg,
			})
			return
		}
		writeJSONError(w, statusFor(err), msg)
		return
	}
	s.metrics.observeAction(label, "ok")

	switch res.Action {
	case core.ActionParse:
		writeJSON(w, http.StatusOK, messageResponse{Message: res.Message})
	case core.ActionPlan:
		writeJSON(w, http.StatusOK, planResponse{Plan: res.Plan, Message: res.Message})
	default:
		writeJSON(w, http.StatusOK, executeResponse{
			Results:  nonNil(res.Rows),
			Messages: nonNil(res.Messages),
			Message:  res.Message,
		})
	}
}

// objectsHandler lists databases, tables, views or columns
// POST /api/database-objects
func (s *Service) objectsHandler(w http.ResponseWriter, r *http.Request) {
	var req objectsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	objects, err := s.console.Objects(r.Context(), core.ObjectsRequest{
		Server:   req.ServerName,
		Type:     core.ObjectType(req.ObjectType),
		Database: req.Context.Database,
		Table:    req.Context.Table,
	})
	if err != nil {
		writeJSONError(w, statusFor(err), core.ErrorMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, objectsResponse{Objects: nonNil(objects)})
}

// environmentHandler returns the environment label of a server
// POST /api/validate-environment
func (s *Service) environmentHandler(w http.ResponseWriter, r *http.Request) {
	var req environmentRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	env, err := s.console.Environment(r.Context(), req.ServerName)
	if err != nil {
		writeJSONError(w, statusFor(err), core.ErrorMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, environmentResponse{
		Environment:  env,
		IsProduction: s.console.IsProduction(env),
	})
}

// healthCheckHandler reports that the service is up
// GET /health
func (s *Service) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) observeFailure(action string, err error) {
	if errors.Is(err, core.ErrProductionBlocked) {
		s.metrics.guardRejected()
		s.metrics.observeAction(action, "blocked")
		s.log.Infow("statement blocked by production guard", "action", action)
		return
	}
	s.metrics.observeAction(action, "error")
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
