package serv

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sqlops/sqlconsole/core"
	"github.com/sqlops/sqlconsole/serv/internal/util"
)

var version string

const (
	serverName      = "sqlconsole"
	defaultHP       = "127.0.0.1:8080"
	shutdownTimeout = 30 * time.Second
)

// Service is the query console HTTP service
type Service struct {
	conf     *Config
	log      *zap.SugaredLogger
	zlog     *zap.Logger
	fs       afero.Fs
	opener   core.Opener
	env      core.EnvironmentResolver
	keychain *Keychain
	console  *core.Console
	metrics  *metrics
	srv      *http.Server
	closeFn  func(context.Context) error
}

type Option func(*Service) error

// OptionSetFS sets the filesystem the web client is served from
func OptionSetFS(fs afero.Fs) Option {
	return func(s *Service) error {
		s.fs = fs
		return nil
	}
}

// OptionSetOpener sets the connection opener used for target servers and
// the inventory
func OptionSetOpener(o core.Opener) Option {
	return func(s *Service) error {
		s.opener = o
		return nil
	}
}

// OptionSetResolver sets the environment resolver used by the production
// guard
func OptionSetResolver(r core.EnvironmentResolver) Option {
	return func(s *Service) error {
		s.env = r
		return nil
	}
}

// OptionSetLogger sets the service logger
func OptionSetLogger(l *zap.Logger) Option {
	return func(s *Service) error {
		s.zlog = l
		return nil
	}
}

// OptionSetKeychain sets the keychain SQL login passwords are read from
func OptionSetKeychain(k *Keychain) Option {
	return func(s *Service) error {
		s.keychain = k
		return nil
	}
}

// NewService creates the query console service
func NewService(conf *Config, options ...Option) (*Service, error) {
	s := &Service{conf: conf}

	for _, op := range options {
		if err := op(s); err != nil {
			return nil, err
		}
	}

	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) init() error {
	s.conf.initHostPort()

	if s.zlog == nil {
		s.zlog = util.NewLogger(s.conf.ShouldUseJSONLogs(), s.conf.LogLevel)
	}
	s.log = s.zlog.Sugar()

	if s.fs == nil {
		s.fs = webFS(s.conf.WebRoot)
	}

	if s.opener == nil {
		if s.conf.Auth.Keyring && s.keychain == nil {
			kc, err := OpenKeychain()
			if err != nil {
				return err
			}
			s.keychain = kc
		}

		dc, err := s.conf.DriverConfig(s.keychain)
		if err != nil {
			return err
		}
		f, err := core.NewConnFactory(dc)
		if err != nil {
			return err
		}
		s.opener = f
	}

	if s.env == nil {
		if s.conf.Inventory.Server == "" {
			s.log.Warn("inventory.server is not set, environment lookups will fail and statements will be blocked")
		}
		s.env = core.NewClassifier(s.opener, s.conf.InventoryConfig())
	}

	if ttl := s.conf.Guard.CacheTTL; ttl > 0 {
		cr, err := newCachedResolver(s.env, ttl)
		if err != nil {
			return err
		}
		s.env = cr
	}

	s.metrics = newMetrics(s.conf.Metrics.Enable)

	if s.conf.EnableTracing {
		s.closeFn = initTracing(s.zlog)
	}

	s.console = core.NewConsole(s.conf.CoreConfig(), s.opener, s.env, s.log.Named("console"))
	return nil
}

// Console returns the query console behind the service
func (s *Service) Console() *core.Console {
	return s.console
}

// Logger returns the service logger
func (s *Service) Logger() *zap.SugaredLogger {
	return s.log
}

// Handler returns the HTTP handler serving every route
func (s *Service) Handler() (http.Handler, error) {
	return routesHandler(s)
}

// Start the HTTP server. It blocks until the server is shut down with an
// interrupt or terminate signal.
func (s *Service) Start() error {
	routes, err := s.Handler()
	if err != nil {
		return fmt.Errorf("error setting up routes: %w", err)
	}

	s.srv = &http.Server{
		Addr:              s.conf.hostPort,
		Handler:           routes,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.conf.writeTimeout(),
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.srv.Shutdown(ctx); err != nil {
			s.log.Warnf("shutdown: %s", err)
		}
		close(idleConnsClosed)
	}()

	s.srv.RegisterOnShutdown(func() {
		if s.closeFn != nil {
			s.closeFn(context.Background()) //nolint:errcheck
		}
		s.log.Info("shutdown complete")
	})

	ver := version
	if ver == "" {
		ver = "not-set"
	}

	fields := []zapcore.Field{
		zap.String("version", ver),
		zap.String("host-port", s.conf.hostPort),
		zap.String("app-name", s.conf.AppName),
		zap.String("env", os.Getenv("GO_ENV")),
		zap.Bool("production", s.conf.Serv.Production),
		zap.String("inventory", s.conf.Inventory.Server),
		zap.Strings("production-labels", s.conf.Guard.ProductionLabels),
		zap.Bool("metrics", s.metrics.enabled()),
	}

	s.zlog.Info("sqlconsole started", fields...)
	printDevModeInfo(s)

	l, err := net.Listen("tcp", s.conf.hostPort)
	if err != nil {
		s.log.Fatalf("failed to init port: %s", err)
	}

	if err := s.srv.Serve(l); err != http.ErrServerClosed {
		s.log.Fatalf("failed to start: %s", err)
	}
	<-idleConnsClosed
	return nil
}

// writeTimeout leaves room for the longest running statement
func (c *Config) writeTimeout() time.Duration {
	t := c.QueryTimeout
	if c.RestoreTimeout > t {
		t = c.RestoreTimeout
	}
	return t + time.Minute
}

// printDevModeInfo prints useful development information on startup
func printDevModeInfo(s *Service) {
	if s.conf.Serv.Production {
		return
	}

	// Convert 0.0.0.0 to localhost for display
	displayHost := s.conf.hostPort
	if strings.HasPrefix(displayHost, "0.0.0.0:") {
		displayHost = "localhost" + displayHost[7:]
	}

	fmt.Println()
	fmt.Println("Development Server URLs")
	fmt.Println("───────────────────────")
	fmt.Printf("  Console:     http://%s/\n", displayHost)
	fmt.Printf("  Execute:     http://%s%s\n", displayHost, routeExecute)
	fmt.Printf("  Objects:     http://%s%s\n", displayHost, routeObjects)
	if s.metrics.enabled() {
		fmt.Printf("  Metrics:     http://%s%s\n", displayHost, s.conf.Metrics.Path)
	}
	fmt.Println()
}
