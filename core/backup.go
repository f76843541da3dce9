package core

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// BackupFile is one database file listed by RESTORE FILELISTONLY.
type BackupFile struct {
	LogicalName  string
	PhysicalName string
	// D data, L log, F full-text catalog, S filestream.
	Type string
}

// BackupRequest describes a full database backup.
type BackupRequest struct {
	Server   string
	Database string
	// Dir defaults to Config.BackupDir and then to the instance default
	// backup path.
	Dir string
	// File overrides the generated <database>_<timestamp>.bak name.
	File        string
	CopyOnly    bool
	Compression bool
	// Progress receives engine progress messages while the backup runs.
	Progress MessageListener
}

// RestoreRequest describes a database restore from a backup file.
type RestoreRequest struct {
	Server     string
	Database   string
	BackupFile string
	// DataDir and LogDir default to the instance default paths.
	DataDir string
	LogDir  string
	// Replace overwrites an existing database. Open connections to it are
	// rolled back first.
	Replace  bool
	Progress MessageListener
}

// RefreshRequest copies a database from one server to another by backing
// it up on the source and restoring it over the target.
type RefreshRequest struct {
	SourceServer   string
	SourceDatabase string
	TargetServer   string
	// TargetDatabase defaults to SourceDatabase.
	TargetDatabase string
	// BackupDir must be reachable from both servers.
	BackupDir string
	DataDir   string
	LogDir    string
	Progress  MessageListener
}

// BackupResult is the outcome of a backup, restore or refresh.
type BackupResult struct {
	File     string
	Messages []Message
}

const (
	fileListQuery = `RESTORE FILELISTONLY FROM DISK = @p1`

	instancePathsQuery = `SELECT
	CAST(SERVERPROPERTY('InstanceDefaultDataPath') AS nvarchar(4000)) AS DataPath,
	CAST(SERVERPROPERTY('InstanceDefaultLogPath') AS nvarchar(4000)) AS LogPath,
	CAST(SERVERPROPERTY('InstanceDefaultBackupPath') AS nvarchar(4000)) AS BackupPath`
)

// BackupStatement builds a BACKUP DATABASE statement.
func BackupStatement(database, file string, copyOnly, compression bool) string {
	opts := []string{"INIT", "FORMAT"}
	if copyOnly {
		opts = append(opts, "COPY_ONLY")
	}
	if compression {
		opts = append(opts, "COMPRESSION")
	}
	opts = append(opts, "STATS = 10")

	return fmt.Sprintf("BACKUP DATABASE %s TO DISK = %s WITH %s",
		quoteIdent(database), quoteString(file), strings.Join(opts, ", "))
}

// RestoreStatement builds a RESTORE DATABASE statement that moves every
// file in files to dataDir or logDir.
func RestoreStatement(database, file string, files []BackupFile, dataDir, logDir string, replace bool) string {
	var opts []string
	for _, f := range restoreTargets(database, files, dataDir, logDir) {
		opts = append(opts, fmt.Sprintf("MOVE %s TO %s", quoteString(f.LogicalName), quoteString(f.PhysicalName)))
	}
	if replace {
		opts = append(opts, "REPLACE")
	}
	opts = append(opts, "RECOVERY", "STATS = 10")

	return fmt.Sprintf("RESTORE DATABASE %s FROM DISK = %s WITH %s",
		quoteIdent(database), quoteString(file), strings.Join(opts, ", "))
}

// restoreTargets returns files with PhysicalName set to the restore
// location. The first data file becomes <db>.mdf and the first log file
// <db>_log.ldf; further files get a numeric suffix.
func restoreTargets(database string, files []BackupFile, dataDir, logDir string) []BackupFile {
	out := make([]BackupFile, 0, len(files))
	var data, logs int

	for _, f := range files {
		var name, dir string
		switch strings.ToUpper(f.Type) {
		case "L":
			logs++
			name, dir = database+"_log.ldf", logDir
			if logs > 1 {
				name = fmt.Sprintf("%s_log%d.ldf", database, logs)
			}
		case "D":
			data++
			name, dir = database+".mdf", dataDir
			if data > 1 {
				name = fmt.Sprintf("%s_%d.ndf", database, data)
			}
		default:
			name, dir = database+"_"+f.LogicalName, dataDir
		}
		f.PhysicalName = joinServerPath(dir, name)
		out = append(out, f)
	}
	return out
}

// joinServerPath joins a directory on the database server with a file name.
// The separator follows the one already used in dir.
func joinServerPath(dir, name string) string {
	if dir == "" {
		return name
	}
	if strings.Contains(dir, "/") && !strings.Contains(dir, `\`) {
		return path.Join(dir, name)
	}
	return strings.TrimRight(dir, `\`) + `\` + name
}

func backupFileName(database string, now time.Time) string {
	return fmt.Sprintf("%s_%s.bak", database, now.Format("20060102_150405"))
}

// Backup takes a full backup of a database.
func (c *Console) Backup(ctx context.Context, req BackupRequest) (*BackupResult, error) {
	ctx, span := tracer.Start(ctx, "console.backup")
	defer span.End()

	if req.Server == "" || req.Database == "" {
		return nil, newError(ErrInvalidRequest, nil, "Server and database are required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.conf.RestoreTimeout)
	defer cancel()

	sess, err := c.openSession(ctx, req.Server, "master")
	if err != nil {
		return nil, err
	}
	defer sess.Close() //nolint:errcheck

	file := req.File
	if file == "" {
		dir := req.Dir
		if dir == "" {
			dir = c.conf.BackupDir
		}
		if dir == "" {
			paths, err := instancePaths(ctx, sess)
			if err != nil {
				return nil, classifyError(ErrExecution, err)
			}
			dir = paths.backup
		}
		file = joinServerPath(dir, backupFileName(req.Database, c.now()))
	}

	c.log.Infof("backing up %s on %s to %s", req.Database, req.Server, file)
	msgs, err := runWithMessages(ctx, sess,
		BackupStatement(req.Database, file, req.CopyOnly, req.Compression), req.Progress)
	return &BackupResult{File: file, Messages: msgs}, err
}

// Restore restores a database from a backup file. The target server must
// pass the production guard.
func (c *Console) Restore(ctx context.Context, req RestoreRequest) (*BackupResult, error) {
	ctx, span := tracer.Start(ctx, "console.restore")
	defer span.End()

	if req.Server == "" || req.Database == "" || req.BackupFile == "" {
		return nil, newError(ErrInvalidRequest, nil, "Server, database and backup file are required")
	}
	if err := c.guard(ctx, req.Server); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.conf.RestoreTimeout)
	defer cancel()

	sess, err := c.openSession(ctx, req.Server, "master")
	if err != nil {
		return nil, err
	}
	defer sess.Close() //nolint:errcheck

	files, err := readFileList(ctx, sess, req.BackupFile)
	if err != nil {
		return nil, classifyError(ErrExecution, err)
	}

	if req.DataDir == "" || req.LogDir == "" {
		paths, err := instancePaths(ctx, sess)
		if err != nil {
			return nil, classifyError(ErrExecution, err)
		}
		if req.DataDir == "" {
			req.DataDir = paths.data
		}
		if req.LogDir == "" {
			req.LogDir = paths.log
		}
	}

	if req.Replace {
		if err := sess.Exec(ctx, userAccessStatement(req.Database, "SINGLE_USER WITH ROLLBACK IMMEDIATE")); err != nil {
			return nil, classifyError(ErrExecution, errors.Wrapf(err, "disconnect users from %s", req.Database))
		}
	}

	c.log.Infof("restoring %s on %s from %s", req.Database, req.Server, req.BackupFile)
	stmt := RestoreStatement(req.Database, req.BackupFile, files, req.DataDir, req.LogDir, req.Replace)
	msgs, err := runWithMessages(ctx, sess, stmt, req.Progress)

	if err != nil && req.Replace {
		// The existing database must not stay single user after a failed restore.
		rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), revertTimeout)
		defer rcancel()
		if rerr := sess.Exec(rctx, userAccessStatement(req.Database, "MULTI_USER")); rerr != nil {
			c.log.Warnf("reset %s to multi user: %s", req.Database, rerr)
		}
	}
	return &BackupResult{File: req.BackupFile, Messages: msgs}, err
}

// userAccessStatement sets the user access mode of database when it exists.
func userAccessStatement(database, mode string) string {
	return fmt.Sprintf("IF DB_ID(%s) IS NOT NULL ALTER DATABASE %s SET %s",
		quoteString(database), quoteIdent(database), mode)
}

// Refresh backs up a database on the source server and restores it over
// the target database. The target is checked by the production guard
// before the backup starts.
func (c *Console) Refresh(ctx context.Context, req RefreshRequest) (*BackupResult, error) {
	if req.SourceServer == "" || req.SourceDatabase == "" || req.TargetServer == "" {
		return nil, newError(ErrInvalidRequest, nil, "Source server, source database and target server are required")
	}
	if req.TargetDatabase == "" {
		req.TargetDatabase = req.SourceDatabase
	}
	if err := c.guard(ctx, req.TargetServer); err != nil {
		return nil, err
	}

	bak, err := c.Backup(ctx, BackupRequest{
		Server:   req.SourceServer,
		Database: req.SourceDatabase,
		Dir:      req.BackupDir,
		CopyOnly: true,
		Progress: req.Progress,
	})
	if err != nil {
		return bak, err
	}

	res, err := c.Restore(ctx, RestoreRequest{
		Server:     req.TargetServer,
		Database:   req.TargetDatabase,
		BackupFile: bak.File,
		DataDir:    req.DataDir,
		LogDir:     req.LogDir,
		Replace:    true,
		Progress:   req.Progress,
	})
	if res != nil {
		res.Messages = append(bak.Messages, res.Messages...)
	}
	return res, err
}

func (c *Console) openSession(ctx context.Context, server, database string) (Session, error) {
	sess, err := c.opener.Open(ctx, server, database)
	if err != nil {
		return nil, classifyError(ErrConnect, err)
	}
	return sess, nil
}

// runWithMessages runs stmt, forwarding engine messages to progress, and
// fails when any of them has error severity.
func runWithMessages(ctx context.Context, sess Session, stmt string, progress MessageListener) ([]Message, error) {
	mc := &MessageCollector{}
	l := MessageListenerFunc(func(m Message) {
		mc.OnMessage(m)
		notify(progress, m)
	})

	if _, err := sess.Query(ctx, stmt, l); err != nil {
		return mc.Messages(), classifyError(ErrExecution, err)
	}
	if m, ok := mc.FirstError(); ok {
		return mc.Messages(), classifyMessage(ErrExecution, m, nil)
	}
	return mc.Messages(), nil
}

func readFileList(ctx context.Context, sess Session, file string) ([]BackupFile, error) {
	sets, err := sess.Query(ctx, fileListQuery, nil, file)
	if err != nil {
		return nil, errors.Wrapf(err, "read file list of %s", file)
	}

	var files []BackupFile
	for _, rs := range sets {
		for _, row := range rs.Rows {
			logical, _ := row.Get("LogicalName")
			physical, _ := row.Get("PhysicalName")
			typ, _ := row.Get("Type")
			files = append(files, BackupFile{
				LogicalName:  fmt.Sprint(logical),
				PhysicalName: fmt.Sprint(physical),
				Type:         fmt.Sprint(typ),
			})
		}
	}
	if len(files) == 0 {
		return nil, errors.Errorf("backup %s lists no database files", file)
	}
	return files, nil
}

type serverPaths struct {
	data, log, backup string
}

func instancePaths(ctx context.Context, sess Session) (serverPaths, error) {
	sets, err := sess.Query(ctx, instancePathsQuery, nil)
	if err != nil {
		return serverPaths{}, errors.Wrap(err, "read instance default paths")
	}
	if len(sets) == 0 || len(sets[0].Rows) == 0 {
		return serverPaths{}, errors.New("instance default paths are not available")
	}
	vals := sets[0].Rows[0].Values()
	return serverPaths{
		data:   stringValue(vals, 0),
		log:    stringValue(vals, 1),
		backup: stringValue(vals, 2),
	}, nil
}
