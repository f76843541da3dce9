//go:build integration

package core_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sqlops/sqlconsole/core"
)

const saPassword = "Sqlc0nsole!Passw0rd"

var (
	devServer  string
	prodServer string
	dbOpener   *core.ConnFactory
)

// TestMain starts a SQL Server container with an inventory database. Run
// with: go test -tags integration ./core/...
func TestMain(m *testing.M) {
	ctx := context.Background()

	terminate, err := startMssql(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mssql: %s\n", err)
		os.Exit(1)
	}

	res := m.Run()

	if err := terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "mssql terminate: %s\n", err)
	}
	os.Exit(res)
}

func startMssql(ctx context.Context) (func(context.Context) error, error) {
	req := testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mcr.microsoft.com/mssql/server:2022-latest",
			ExposedPorts: []string{"1433/tcp"},
			Env: map[string]string{
				"ACCEPT_EULA":       "Y",
				"MSSQL_SA_PASSWORD": saPassword,
			},
			WaitingFor: wait.ForLog("SQL Server is now ready for client connections").
				WithStartupTimeout(120 * time.Second),
		},
		Started: true,
	}
	container, err := testcontainers.GenericContainer(ctx, req)
	if err != nil {
		return nil, err
	}

	host, err := container.Host(ctx)
	if err != nil {
		return container.Terminate, err
	}
	port, err := container.MappedPort(ctx, "1433")
	if err != nil {
		return container.Terminate, err
	}

	// The same instance is registered twice so both guard outcomes can be
	// exercised against one container.
	devServer = fmt.Sprintf("%s,%s", host, port.Port())
	prodServer = fmt.Sprintf("%s:%s", host, port.Port())

	dbOpener, err = core.NewConnFactory(core.DriverConfig{
		Auth:        core.Credentials{Mode: core.AuthSQL, User: "sa", Password: saPassword},
		Encrypt:     "disable",
		AppName:     "sqlconsole-test",
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return container.Terminate, err
	}

	dsn, err := dbOpener.DSN(dbOpener.Descriptor(devServer, "master"))
	if err != nil {
		return container.Terminate, err
	}

	var db *sql.DB
	for i := 0; i < 60; i++ {
		db, err = sql.Open("sqlserver", dsn)
		if err == nil {
			if err = db.PingContext(ctx); err == nil {
				break
			}
			db.Close() //nolint:errcheck
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		return container.Terminate, fmt.Errorf("failed to connect to mssql: %w", err)
	}
	defer db.Close() //nolint:errcheck

	setup := []string{
		`CREATE DATABASE inventory`,
		`CREATE DATABASE app`,
		`USE inventory`,
		`CREATE TABLE dbo.Instances (InstanceName sysname, ServerName sysname, EnvironmentName varchar(20))`,
		`CREATE VIEW dbo.vw_InstanceOverview AS SELECT InstanceName, ServerName, EnvironmentName FROM dbo.Instances`,
		fmt.Sprintf(`INSERT INTO dbo.Instances VALUES ('%s', 'devbox', 'DEV'), ('%s', 'prodbox', 'PROD')`,
			devServer, prodServer),
		`USE app`,
		`CREATE TABLE dbo.Customers (id int PRIMARY KEY, name nvarchar(50), created datetime2)`,
		`INSERT INTO dbo.Customers VALUES (1, N'Ada', '2024-01-02T03:04:05'), (2, N'Linus', NULL)`,
		`CREATE VIEW dbo.CustomerNames AS SELECT name FROM dbo.Customers`,
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return container.Terminate, err
	}
	defer conn.Close() //nolint:errcheck

	for _, stmt := range setup {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return container.Terminate, fmt.Errorf("failed to init mssql: %w\nSQL: %s", err, stmt)
		}
	}
	return container.Terminate, nil
}

func newIntegrationConsole(t *testing.T) *core.Console {
	t.Helper()
	env := core.NewClassifier(dbOpener, core.InventoryConfig{
		Server:   devServer,
		Database: "inventory",
	})
	return core.NewConsole(core.Config{QueryTimeout: 30 * time.Second}, dbOpener, env, nil)
}

func TestIntegration_ExecuteSelect(t *testing.T) {
	c := newIntegrationConsole(t)

	res, err := c.Query(context.Background(), core.QueryRequest{
		Server:   devServer,
		Database: "app",
		Query:    "SELECT id, name FROM dbo.Customers ORDER BY id",
		Action:   core.ActionExecute,
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)

	assert.Equal(t, []string{"id", "name"}, res.Rows[0].Columns())
	name, _ := res.Rows[0].Get("name")
	assert.Equal(t, "Ada", name)
	assert.Equal(t, "Query executed successfully. Returned 2 rows.", res.Message)
}

func TestIntegration_ExecuteCapturesPrint(t *testing.T) {
	c := newIntegrationConsole(t)

	res, err := c.Query(context.Background(), core.QueryRequest{
		Server: devServer,
		Query:  "PRINT 'hello'; SELECT 1 AS x",
		Action: core.ActionExecute,
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)

	var texts []string
	for _, m := range res.Messages {
		texts = append(texts, m.Text)
	}
	assert.Contains(t, texts, "hello")
}

func TestIntegration_ExecuteMissingTable(t *testing.T) {
	c := newIntegrationConsole(t)

	_, err := c.Query(context.Background(), core.QueryRequest{
		Server:   devServer,
		Database: "app",
		Query:    "SELECT * FROM dbo.NoSuchTable",
		Action:   core.ActionExecute,
	})
	require.Error(t, err)
	assert.Contains(t, core.ErrorMessage(err), "NoSuchTable")
}

func TestIntegration_ParseAndPlan(t *testing.T) {
	c := newIntegrationConsole(t)
	ctx := context.Background()

	res, err := c.Query(ctx, core.QueryRequest{
		Server:   devServer,
		Database: "app",
		Query:    "SELECT name FROM dbo.Customers",
		Action:   core.ActionParse,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Message)

	_, err = c.Query(ctx, core.QueryRequest{
		Server: devServer,
		Query:  "SELEC name FROM",
		Action: core.ActionParse,
	})
	require.Error(t, err)

	res, err = c.Query(ctx, core.QueryRequest{
		Server:   devServer,
		Database: "app",
		Query:    "SELECT name FROM dbo.Customers WHERE id = 1",
		Action:   core.ActionPlan,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Plan, "ShowPlanXML")
	assert.NoError(t, core.ValidatePlan(res.Plan))
}

func TestIntegration_ProductionBlocked(t *testing.T) {
	c := newIntegrationConsole(t)

	_, err := c.Query(context.Background(), core.QueryRequest{
		Server: prodServer,
		Query:  "SELECT 1",
		Action: core.ActionExecute,
	})
	require.ErrorIs(t, err, core.ErrProductionBlocked)

	env, err := c.Environment(context.Background(), prodServer)
	require.NoError(t, err)
	assert.Equal(t, "PROD", env)
	assert.True(t, c.IsProduction(env))
}

func TestIntegration_Objects(t *testing.T) {
	c := newIntegrationConsole(t)
	ctx := context.Background()

	dbs, err := c.Objects(ctx, core.ObjectsRequest{Server: devServer, Type: core.ObjectDatabases})
	require.NoError(t, err)
	assert.Contains(t, objectNames(dbs), "app")

	tables, err := c.Objects(ctx, core.ObjectsRequest{Server: devServer, Type: core.ObjectTables, Database: "app"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Customers"}, objectNames(tables))

	views, err := c.Objects(ctx, core.ObjectsRequest{Server: devServer, Type: core.ObjectViews, Database: "app"})
	require.NoError(t, err)
	assert.Equal(t, []string{"CustomerNames"}, objectNames(views))

	cols, err := c.Objects(ctx, core.ObjectsRequest{
		Server:   devServer,
		Type:     core.ObjectColumns,
		Database: "app",
		Table:    "dbo.Customers",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "created"}, objectNames(cols))
}

func objectNames(objs []core.DBObject) []string {
	names := make([]string, 0, len(objs))
	for _, o := range objs {
		names = append(names, o.Name)
	}
	return names
}
