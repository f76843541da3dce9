package core

import (
	"context"
	"fmt"
	"strings"
)

// ObjectType is the kind of database object to list.
type ObjectType string

const (
	ObjectDatabases ObjectType = "databases"
	ObjectTables    ObjectType = "tables"
	ObjectViews     ObjectType = "views"
	ObjectColumns   ObjectType = "columns"
)

// ObjectsRequest selects the objects listed by Console.Objects. Database
// scopes tables, views and columns; Table is required for columns and may
// be schema-qualified.
type ObjectsRequest struct {
	Server   string
	Type     ObjectType
	Database string
	Table    string
}

// DBObject is a single listed object.
type DBObject struct {
	Name     string `json:"name"`
	Schema   string `json:"schema,omitempty"`
	DataType string `json:"dataType,omitempty"`
}

const (
	listDatabasesQuery = `SELECT name FROM sys.databases WHERE state_desc = 'ONLINE' ORDER BY name`

	listTablesQuery = `SELECT TABLE_NAME, TABLE_SCHEMA
FROM INFORMATION_SCHEMA.TABLES
WHERE TABLE_TYPE = 'BASE TABLE'
ORDER BY TABLE_SCHEMA, TABLE_NAME`

	listViewsQuery = `SELECT TABLE_NAME, TABLE_SCHEMA
FROM INFORMATION_SCHEMA.VIEWS
ORDER BY TABLE_SCHEMA, TABLE_NAME`

	listColumnsQuery = `SELECT COLUMN_NAME, TABLE_SCHEMA, DATA_TYPE
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_NAME = @p1 AND (@p2 = '' OR TABLE_SCHEMA = @p2)
ORDER BY ORDINAL_POSITION`
)

// Objects lists databases, tables, views or columns on a server. Listing
// reads catalog views only, so it does not pass the production guard.
func (c *Console) Objects(ctx context.Context, req ObjectsRequest) ([]DBObject, error) {
	ctx, span := tracer.Start(ctx, "console.objects")
	defer span.End()

	if strings.TrimSpace(req.Server) == "" {
		return nil, newError(ErrInvalidRequest, nil, "Server name is required")
	}

	var (
		query string
		args  []any
	)
	switch ObjectType(strings.ToLower(string(req.Type))) {
	case ObjectDatabases:
		query = listDatabasesQuery
		req.Database = ""
	case ObjectTables:
		query = listTablesQuery
	case ObjectViews:
		query = listViewsQuery
	case ObjectColumns:
		schema, table := splitTableName(req.Table)
		if table == "" {
			return nil, newError(ErrInvalidRequest, nil, "Table name is required to list columns")
		}
		query = listColumnsQuery
		args = []any{table, schema}
	default:
		return nil, newError(ErrInvalidObjectType, nil,
			"Invalid object type: '%s'. Expected databases, tables, views or columns", req.Type)
	}

	ctx, cancel := context.WithTimeout(ctx, c.conf.QueryTimeout)
	defer cancel()

	sess, err := c.opener.Open(ctx, req.Server, req.Database)
	if err != nil {
		span.RecordError(err)
		return nil, classifyError(ErrConnect, err)
	}
	defer sess.Close() //nolint:errcheck

	sets, err := sess.Query(ctx, query, nil, args...)
	if err != nil {
		span.RecordError(err)
		return nil, classifyError(ErrExecution, err)
	}

	objects := []DBObject{}
	for _, rs := range sets {
		for _, row := range rs.Rows {
			vals := row.Values()
			obj := DBObject{Name: stringValue(vals, 0)}
			obj.Schema = stringValue(vals, 1)
			obj.DataType = stringValue(vals, 2)
			objects = append(objects, obj)
		}
	}
	return objects, nil
}

// splitTableName splits "schema.table", with optional brackets, into its
// parts. The schema is empty when name is not qualified.
func splitTableName(name string) (schema, table string) {
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, "."); i >= 0 {
		schema, table = name[:i], name[i+1:]
	} else {
		table = name
	}
	return unbracket(schema), unbracket(table)
}

func unbracket(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '[' && s[len(s)-1] == ']' {
		s = strings.ReplaceAll(s[1:len(s)-1], "]]", "]")
	}
	return s
}

func stringValue(vals []any, i int) string {
	if i >= len(vals) || vals[i] == nil {
		return ""
	}
	if s, ok := vals[i].(string); ok {
		return s
	}
	return fmt.Sprint(vals[i])
}
