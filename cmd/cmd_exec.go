package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/sqlops/sqlconsole/core"
)

var (
	apiURL     string
	apiTimeout time.Duration
	serverName string
	database   string
	action     string
	queryFile  string
	tableName  string
)

func addClientFlags(c *cobra.Command) {
	c.Flags().StringVar(&apiURL, "url", "http://127.0.0.1:8080", "sqlconsole service url")
	c.Flags().DurationVar(&apiTimeout, "timeout", 2*time.Minute, "request timeout")
}

// execCmd sends a statement to a running service
func execCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "exec [query]",
		Short: "Execute, parse or plan a statement through the service",
		Example: `  sqlconsole exec -s devbox "SELECT name FROM sys.databases"
  sqlconsole exec -s devbox -a plan -f report.sql`,
		Run: cmdExec,
	}
	addClientFlags(c)
	c.Flags().StringVarP(&serverName, "server", "s", "", "target server")
	c.Flags().StringVarP(&database, "database", "d", "", "database context")
	c.Flags().StringVarP(&action, "action", "a", string(core.ActionExecute), "execute, parse or plan")
	c.Flags().StringVarP(&queryFile, "file", "f", "", "read the statement from a file")
	c.MarkFlagRequired("server") //nolint:errcheck
	return c
}

func cmdExec(cmd *cobra.Command, args []string) {
	query := strings.Join(args, " ")
	if queryFile != "" {
		b, err := os.ReadFile(queryFile)
		if err != nil {
			log.Fatalf("%s", err)
		}
		query = string(b)
	}
	if strings.TrimSpace(query) == "" {
		log.Fatal("no statement given, pass it as an argument or with --file")
	}

	api := newAPIClient(apiURL, apiTimeout)
	res, err := api.Execute(context.Background(), serverName, database, query, action)
	if err != nil {
		log.Fatalf("%s", err)
	}

	for _, m := range res.Messages {
		if m.IsError() {
			pterm.Error.Println(m.String())
		} else {
			pterm.Info.Println(m.String())
		}
	}

	if res.Error != "" {
		log.Fatalf("%s", res.Error)
	}

	if res.Plan != "" {
		fmt.Println(res.Plan)
	}
	if err := renderRows(res.Results); err != nil {
		log.Fatalf("%s", err)
	}
	pterm.Success.Println(res.Message)
}

// objectsCmd lists database objects through the service
func objectsCmd() *cobra.Command {
	c := &cobra.Command{
		Use:       "objects <databases|tables|views|columns>",
		Short:     "List databases, tables, views or columns",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"databases", "tables", "views", "columns"},
		Run:       cmdObjects,
	}
	addClientFlags(c)
	c.Flags().StringVarP(&serverName, "server", "s", "", "target server")
	c.Flags().StringVarP(&database, "database", "d", "", "database context")
	c.Flags().StringVarP(&tableName, "table", "t", "", "table for the columns listing")
	c.MarkFlagRequired("server") //nolint:errcheck
	return c
}

func cmdObjects(cmd *cobra.Command, args []string) {
	api := newAPIClient(apiURL, apiTimeout)
	objs, err := api.Objects(context.Background(), serverName, args[0], database, tableName)
	if err != nil {
		log.Fatalf("%s", err)
	}
	if err := renderObjects(objs); err != nil {
		log.Fatalf("%s", err)
	}
}

// envCmd shows the environment label of a server
func envCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "env <server>",
		Short: "Show the inventory environment of a server",
		Args:  cobra.ExactArgs(1),
		Run:   cmdEnv,
	}
	addClientFlags(c)
	return c
}

func cmdEnv(cmd *cobra.Command, args []string) {
	api := newAPIClient(apiURL, apiTimeout)
	res, err := api.Environment(context.Background(), args[0])
	if err != nil {
		log.Fatalf("%s", err)
	}

	if res.IsProduction {
		pterm.Warning.Printfln("%s: %s (statements are blocked)", args[0], res.Environment)
		return
	}
	pterm.Success.Printfln("%s: %s", args[0], res.Environment)
}

// rowsTable converts result rows into a table with a header line
func rowsTable(rows []orderedRow) pterm.TableData {
	if len(rows) == 0 {
		return nil
	}
	cols := rows[0].keys
	data := pterm.TableData{cols}
	for _, r := range rows {
		line := make([]string, len(cols))
		for i, c := range cols {
			line[i] = formatValue(r.vals[c])
		}
		data = append(data, line)
	}
	return data
}

func renderRows(rows []orderedRow) error {
	data := rowsTable(rows)
	if data == nil {
		return nil
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func renderObjects(objs []core.DBObject) error {
	if len(objs) == 0 {
		pterm.Info.Println("No objects found.")
		return nil
	}
	data := pterm.TableData{{"Name", "Schema", "Type"}}
	for _, o := range objs {
		data = append(data, []string{o.Name, o.Schema, o.DataType})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprint(v)
}
