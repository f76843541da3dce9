package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T, h http.HandlerFunc) *apiClient {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return newAPIClient(ts.URL+"/", 5*time.Second)
}

func writeTestJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(body)) //nolint:errcheck
}

func TestOrderedRow_KeepsColumnOrder(t *testing.T) {
	var rows []orderedRow
	err := json.Unmarshal([]byte(`[{"z":1,"a":"x","m":null},{"z":2,"a":"y","m":true}]`), &rows)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, []string{"z", "a", "m"}, rows[0].keys)
	assert.Equal(t, json.Number("1"), rows[0].vals["z"])
	assert.Nil(t, rows[0].vals["m"])

	data := rowsTable(rows)
	require.Len(t, data, 3)
	assert.Equal(t, []string{"z", "a", "m"}, data[0])
	assert.Equal(t, []string{"1", "x", "NULL"}, data[1])
	assert.Equal(t, []string{"2", "y", "true"}, data[2])
}

func TestOrderedRow_RejectsNonObject(t *testing.T) {
	var r orderedRow
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &r))
}

func TestRowsTable_Empty(t *testing.T) {
	assert.Nil(t, rowsTable(nil))
}

func TestAPIClient_Execute(t *testing.T) {
	var got map[string]string
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/execute", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeTestJSON(w, http.StatusOK,
			`{"results":[{"x":1}],"messages":[{"text":"hello"}],"message":"Query executed successfully. Returned 1 rows."}`)
	})

	res, err := api.Execute(context.Background(), "devbox", "Sales", "SELECT 1 AS x", "execute")
	require.NoError(t, err)

	assert.Equal(t, "devbox", got["serverName"])
	assert.Equal(t, "Sales", got["database"])
	assert.Equal(t, "SELECT 1 AS x", got["query"])
	assert.Equal(t, "execute", got["action"])

	require.Len(t, res.Results, 1)
	assert.Equal(t, []string{"x"}, res.Results[0].keys)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "hello", res.Messages[0].Text)
	assert.Empty(t, res.Error)
}

func TestAPIClient_ExecuteStatementError(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK,
			`{"error":"Table or view does not exist: dbo.NoSuchTable","results":[],"messages":[]}`)
	})

	res, err := api.Execute(context.Background(), "devbox", "", "SELECT * FROM dbo.NoSuchTable", "execute")
	require.NoError(t, err)
	assert.Equal(t, "Table or view does not exist: dbo.NoSuchTable", res.Error)
	assert.Empty(t, res.Results)
}

func TestAPIClient_ErrorStatus(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusForbidden,
			`{"error":"Execution blocked: server 'prod01' is a production server"}`)
	})

	_, err := api.Execute(context.Background(), "prod01", "", "SELECT 1", "execute")
	require.Error(t, err)
	assert.Equal(t, "Execution blocked: server 'prod01' is a production server", err.Error())
}

func TestAPIClient_ErrorStatusWithoutBody(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := api.Environment(context.Background(), "devbox")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestAPIClient_Objects(t *testing.T) {
	var got struct {
		ServerName string `json:"serverName"`
		ObjectType string `json:"objectType"`
		Context    struct {
			Database string `json:"database"`
			Table    string `json:"table"`
		} `json:"context"`
	}
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/database-objects", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeTestJSON(w, http.StatusOK,
			`{"objects":[{"name":"id","dataType":"int"},{"name":"name","dataType":"nvarchar"}]}`)
	})

	objs, err := api.Objects(context.Background(), "devbox", "columns", "Sales", "dbo.Customers")
	require.NoError(t, err)

	assert.Equal(t, "columns", got.ObjectType)
	assert.Equal(t, "Sales", got.Context.Database)
	assert.Equal(t, "dbo.Customers", got.Context.Table)
	require.Len(t, objs, 2)
	assert.Equal(t, "id", objs[0].Name)
	assert.Equal(t, "int", objs[0].DataType)
}

func TestAPIClient_Environment(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/validate-environment", r.URL.Path)
		writeTestJSON(w, http.StatusOK, `{"environment":"PROD","isProduction":true}`)
	})

	res, err := api.Environment(context.Background(), "prod01")
	require.NoError(t, err)
	assert.Equal(t, "PROD", res.Environment)
	assert.True(t, res.IsProduction)
}

func TestConfigSchema(t *testing.T) {
	b, err := configSchema()
	require.NoError(t, err)

	var s struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(b, &s))

	for _, k := range []string{"host_port", "inventory", "guard", "query_timeout", "auth"} {
		assert.Contains(t, s.Properties, k)
	}
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "NULL", formatValue(nil))
	assert.Equal(t, "abc", formatValue("abc"))
	assert.Equal(t, "1.5", formatValue(1.5))
}
