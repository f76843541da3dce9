package main

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/sqlops/sqlconsole/core"
	"github.com/sqlops/sqlconsole/serv"
)

var (
	backupDir    string
	backupFile   string
	dataDir      string
	logDir       string
	targetServer string
	targetDB     string
	overwrite    bool
	compression  bool
	authMode     string
	authUser     string
	opTimeout    time.Duration
)

// addOpFlags adds the flags shared by backup, restore and refresh
func addOpFlags(c *cobra.Command) {
	c.Flags().StringVar(&authMode, "auth", "", "override auth.mode: integrated or sql")
	c.Flags().StringVar(&authUser, "user", "", "SQL login for --auth sql")
	c.Flags().DurationVar(&opTimeout, "timeout", 0, "override restore_timeout")
}

func backupCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "backup",
		Short: "Take a full database backup",
		Run:   cmdBackup,
	}
	addOpFlags(c)
	c.Flags().StringVarP(&serverName, "server", "s", "", "server to back up")
	c.Flags().StringVarP(&database, "database", "d", "", "database to back up")
	c.Flags().StringVar(&backupDir, "dir", "", "backup directory on the server")
	c.Flags().StringVar(&backupFile, "file", "", "backup file path on the server")
	c.Flags().BoolVar(&compression, "compress", false, "use backup compression")
	c.MarkFlagRequired("server")   //nolint:errcheck
	c.MarkFlagRequired("database") //nolint:errcheck
	return c
}

func restoreCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "restore",
		Short: "Restore a database from a backup file",
		Run:   cmdRestore,
	}
	addOpFlags(c)
	c.Flags().StringVarP(&serverName, "server", "s", "", "server to restore on")
	c.Flags().StringVarP(&database, "database", "d", "", "database to restore")
	c.Flags().StringVar(&backupFile, "file", "", "backup file path on the server")
	c.Flags().StringVar(&dataDir, "data-dir", "", "directory for data files")
	c.Flags().StringVar(&logDir, "log-dir", "", "directory for log files")
	c.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing database")
	c.MarkFlagRequired("server")   //nolint:errcheck
	c.MarkFlagRequired("database") //nolint:errcheck
	c.MarkFlagRequired("file")     //nolint:errcheck
	return c
}

func refreshCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "refresh",
		Short: "Copy a database from a source server over a target database",
		Run:   cmdRefresh,
	}
	addOpFlags(c)
	c.Flags().StringVarP(&serverName, "source", "s", "", "source server")
	c.Flags().StringVarP(&database, "database", "d", "", "source database")
	c.Flags().StringVar(&targetServer, "target", "", "target server")
	c.Flags().StringVar(&targetDB, "target-database", "", "target database, defaults to the source database")
	c.Flags().StringVar(&backupDir, "dir", "", "backup directory reachable from both servers")
	c.Flags().StringVar(&dataDir, "data-dir", "", "directory for data files on the target")
	c.Flags().StringVar(&logDir, "log-dir", "", "directory for log files on the target")
	c.MarkFlagRequired("source")   //nolint:errcheck
	c.MarkFlagRequired("database") //nolint:errcheck
	c.MarkFlagRequired("target")   //nolint:errcheck
	return c
}

// opConsole builds a console from the config with the command line
// overrides applied
func opConsole() *core.Console {
	setup(cpath)

	if authMode != "" {
		conf.Auth.Mode = strings.ToLower(authMode)
	}
	if authUser != "" {
		conf.Auth.User = authUser
	}
	if opTimeout > 0 {
		conf.RestoreTimeout = opTimeout
	}

	s, err := serv.NewService(conf, serv.OptionSetLogger(log.Desugar()))
	if err != nil {
		log.Fatalf("%s", err)
	}
	return s.Console()
}

// progressLogger prints engine progress messages with a timestamp
func progressLogger() core.MessageListener {
	return core.MessageListenerFunc(func(m core.Message) {
		ts := time.Now().Format("15:04:05")
		if m.IsError() {
			pterm.Error.Printfln("[%s] %s", ts, m.Text)
			return
		}
		pterm.Printfln("[%s] %s", ts, m.Text)
	})
}

func cmdBackup(*cobra.Command, []string) {
	c := opConsole()

	res, err := c.Backup(context.Background(), core.BackupRequest{
		Server:      serverName,
		Database:    database,
		Dir:         backupDir,
		File:        backupFile,
		Compression: compression,
		Progress:    progressLogger(),
	})
	if err != nil {
		log.Fatalf("%s", errors.Wrapf(err, "backup of %s failed", database))
	}
	pterm.Success.Printfln("Backup written to %s", res.File)
}

func cmdRestore(*cobra.Command, []string) {
	c := opConsole()

	_, err := c.Restore(context.Background(), core.RestoreRequest{
		Server:     serverName,
		Database:   database,
		BackupFile: backupFile,
		DataDir:    dataDir,
		LogDir:     logDir,
		Replace:    overwrite,
		Progress:   progressLogger(),
	})
	if err != nil {
		log.Fatalf("%s", errors.Wrapf(err, "restore of %s failed", database))
	}
	pterm.Success.Printfln("Restored %s on %s", database, serverName)
}

func cmdRefresh(*cobra.Command, []string) {
	c := opConsole()

	target := targetDB
	if target == "" {
		target = database
	}

	res, err := c.Refresh(context.Background(), core.RefreshRequest{
		SourceServer:   serverName,
		SourceDatabase: database,
		TargetServer:   targetServer,
		TargetDatabase: target,
		BackupDir:      backupDir,
		DataDir:        dataDir,
		LogDir:         logDir,
		Progress:       progressLogger(),
	})
	if err != nil {
		log.Fatalf("%s", errors.Wrapf(err, "refresh of %s failed", database))
	}
	pterm.Success.Printfln("Refreshed %s on %s from %s", target, targetServer, res.File)
}
