package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"
)

const (
	driverName  = "sqlserver"
	defaultPort = 1433
)

// AuthMode selects how connections authenticate to SQL Server.
type AuthMode string

const (
	AuthIntegrated AuthMode = "integrated"
	AuthSQL        AuthMode = "sql"
)

// Credentials hold the authentication settings used for every connection.
type Credentials struct {
	Mode     AuthMode
	User     string
	Password string
}

// DriverConfig configures the connection factory.
type DriverConfig struct {
	Auth Credentials

	// Encrypt is passed through as the driver's encrypt parameter
	// (true, false, disable or strict). Empty leaves the driver default.
	Encrypt                string
	TrustServerCertificate bool
	AppName                string
	DialTimeout            time.Duration
}

// ConnDescriptor describes a single connection. It is built per request
// and discarded when the call returns.
type ConnDescriptor struct {
	Server   string
	Database string
	Auth     Credentials
}

// Session is one open connection to a server.
type Session interface {
	// Exec runs a statement that returns no rows.
	Exec(ctx context.Context, query string, args ...any) error

	// Query runs a statement and returns its result sets. Engine messages
	// are delivered to l, which may be nil, while the statement runs.
	Query(ctx context.Context, query string, l MessageListener, args ...any) ([]ResultSet, error)

	Close() error
}

// Opener opens sessions. Database may be empty for the login default.
type Opener interface {
	Open(ctx context.Context, server, database string) (Session, error)
}

// ConnFactory opens SQL Server sessions with go-mssqldb.
type ConnFactory struct {
	conf DriverConfig
}

func NewConnFactory(conf DriverConfig) (*ConnFactory, error) {
	switch conf.Auth.Mode {
	case "":
		conf.Auth.Mode = AuthIntegrated
	case AuthIntegrated:
	case AuthSQL:
		if conf.Auth.User == "" {
			return nil, errors.New("sql authentication requires a user")
		}
	default:
		return nil, fmt.Errorf("unsupported auth mode %q: supported modes are integrated, sql", conf.Auth.Mode)
	}
	return &ConnFactory{conf: conf}, nil
}

// Descriptor returns the descriptor for server and database.
func (f *ConnFactory) Descriptor(server, database string) ConnDescriptor {
	return ConnDescriptor{Server: server, Database: database, Auth: f.conf.Auth}
}

// DSN builds the sqlserver:// connection string for d.
func (f *ConnFactory) DSN(d ConnDescriptor) (string, error) {
	host, instance, port, err := parseServerName(d.Server)
	if err != nil {
		return "", err
	}

	u := &url.URL{Scheme: driverName, Host: host}
	if port != 0 {
		u.Host = host + ":" + strconv.Itoa(port)
	}
	if instance != "" {
		u.Path = instance
	}
	if d.Auth.Mode == AuthSQL {
		u.User = url.UserPassword(d.Auth.User, d.Auth.Password)
	}

	q := url.Values{}
	if d.Database != "" {
		q.Set("database", d.Database)
	}
	if f.conf.AppName != "" {
		q.Set("app name", f.conf.AppName)
	}
	if f.conf.Encrypt != "" {
		q.Set("encrypt", f.conf.Encrypt)
	}
	if f.conf.TrustServerCertificate {
		q.Set("TrustServerCertificate", "true")
	}
	if f.conf.DialTimeout > 0 {
		q.Set("dial timeout", strconv.Itoa(int(f.conf.DialTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Open opens a dedicated connection to server. The returned session owns
// both the connection and its handle and releases them on Close.
func (f *ConnFactory) Open(ctx context.Context, server, database string) (Session, error) {
	dsn, err := f.DSN(f.Descriptor(server, database))
	if err != nil {
		return nil, newError(ErrConnect, err, "Invalid server name '%s': %s", server, err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, newError(ErrConnect, err, "Unable to connect to server '%s': %s", server, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	conn, err := db.Conn(ctx)
	if err == nil {
		err = conn.PingContext(ctx)
		if err != nil {
			conn.Close() //nolint:errcheck
		}
	}
	if err != nil {
		db.Close() //nolint:errcheck
		return nil, newError(ErrConnect, err, "Unable to connect to server '%s': %s", server, err)
	}

	return &sqlSession{db: db, conn: conn}, nil
}

// parseServerName splits "host", "host\instance", "host,port" and
// "host:port" forms. "." and "(local)" mean localhost.
func parseServerName(server string) (host, instance string, port int, err error) {
	s := strings.TrimSpace(server)
	if s == "" {
		return "", "", 0, errors.New("server name is empty")
	}
	s = strings.TrimPrefix(s, "tcp:")

	if i := strings.LastIndexByte(s, ','); i != -1 {
		if port, err = parsePort(server, s[i+1:]); err != nil {
			return "", "", 0, err
		}
		s = s[:i]
	}

	if i := strings.IndexByte(s, '\\'); i != -1 {
		host, instance = s[:i], strings.TrimSpace(s[i+1:])
		if instance == "" {
			return "", "", 0, fmt.Errorf("server name %q has an empty instance", server)
		}
	} else {
		host = s
	}

	if i := strings.LastIndexByte(host, ':'); i != -1 && port == 0 {
		if port, err = parsePort(server, host[i+1:]); err != nil {
			return "", "", 0, err
		}
		host = host[:i]
	}

	host = strings.TrimSpace(host)
	switch strings.ToLower(host) {
	case "", ".", "(local)":
		host = "localhost"
	}

	if port == 0 && instance == "" {
		port = defaultPort
	}
	return host, instance, port, nil
}

func parsePort(server, s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || p <= 0 || p > 65535 {
		return 0, fmt.Errorf("server name %q has an invalid port", server)
	}
	return p, nil
}
