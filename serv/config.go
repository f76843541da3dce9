package serv

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/sqlops/sqlconsole/core"
)

// Configuration for the query console service
type Config struct {
	// Configuration for the HTTP service
	Serv `mapstructure:",squash" jsonschema:"title=Service Configuration"`

	// Configuration for query execution and the environment guard
	Console `mapstructure:",squash" jsonschema:"title=Console Configuration"`

	hostPort string
	viper    *viper.Viper
}

// Configuration for the HTTP service
type Serv struct {
	// Application name is used in log messages and sent to SQL Server as the
	// connection application name
	AppName string `mapstructure:"app_name" jsonschema:"title=Application Name"`

	// When enabled logs default to JSON and the development banner is hidden
	Production bool `mapstructure:"production" jsonschema:"title=Production Mode,default=false"`

	// The default path to find all configuration files
	ConfigPath string `mapstructure:"config_path" jsonschema:"title=Config Path"`

	// Logging level must be one of debug, error, warn, info
	LogLevel string `mapstructure:"log_level" jsonschema:"title=Log Level,enum=debug,enum=error,enum=warn,enum=info"`

	// Logging Format: "auto" (default, colored console in dev, JSON in production),
	// "json" (always JSON), or "simple" (always colored console)
	LogFormat string `mapstructure:"log_format" jsonschema:"title=Logging Format,enum=auto,enum=json,enum=simple"`

	// The host and port the service runs on. Example localhost:8080
	HostPort string `mapstructure:"host_port" jsonschema:"title=Host and Port"`

	// Host to run the service on
	Host string `mapstructure:"host" jsonschema:"title=Host"`

	// Port to run the service on
	Port string `mapstructure:"port" jsonschema:"title=Port"`

	// Directory holding the console web client. Relative paths are resolved
	// against the working directory
	WebRoot string `mapstructure:"web_root" jsonschema:"title=Web Root,default=web"`

	// Enables HTTP compression
	HTTPGZip bool `mapstructure:"http_compress" jsonschema:"title=Enable Compression,default=true"`

	// Handle one request at a time
	SerializeRequests bool `mapstructure:"serialize_requests" jsonschema:"title=Serialize Requests,default=true"`

	// Sets the API rate limits
	RateLimiter RateLimiter `mapstructure:"rate_limiter" jsonschema:"title=Set API Rate Limiting"`

	// Enable OpenTelemetry request tracing
	EnableTracing bool `mapstructure:"enable_tracing" jsonschema:"title=Enable Tracing,default=false"`

	// Prometheus metrics
	Metrics Metrics `mapstructure:"metrics" jsonschema:"title=Metrics"`

	// Sets the HTTP CORS Access-Control-Allow-Origin header
	AllowedOrigins []string `mapstructure:"cors_allowed_origins" jsonschema:"title=HTTP CORS Allowed Origins"`

	// Sets the HTTP CORS Access-Control-Allow-Headers header
	AllowedHeaders []string `mapstructure:"cors_allowed_headers" jsonschema:"title=HTTP CORS Allowed Headers"`

	// Enables debug logs for CORS
	DebugCORS bool `mapstructure:"cors_debug" jsonschema:"title=Log CORS"`
}

// RateLimiter sets the API rate limits
type RateLimiter struct {
	// The number of events per second
	Rate float64 `mapstructure:"rate" jsonschema:"title=Connection Rate"`

	// Bucket a burst of at most 'bucket' number of events
	Bucket int `mapstructure:"bucket" jsonschema:"title=Bucket Size"`

	// The header that contains the client ip
	IPHeader string `mapstructure:"ip_header" jsonschema:"title=IP From HTTP Header,example=X-Forwarded-For"`
}

// Metrics configures the Prometheus endpoint
type Metrics struct {
	Enable bool   `mapstructure:"enable" jsonschema:"title=Enable Metrics,default=false"`
	Path   string `mapstructure:"path" jsonschema:"title=Metrics Path,default=/metrics"`
}

// Configuration for query execution and the environment guard
type Console struct {
	// How the console authenticates to SQL Server
	Auth Auth `mapstructure:"auth" jsonschema:"title=Authentication"`

	// SQL Server driver settings
	Driver Driver `mapstructure:"driver" jsonschema:"title=Driver"`

	// Where environment labels are looked up
	Inventory Inventory `mapstructure:"inventory" jsonschema:"title=Inventory"`

	// Production guard settings
	Guard Guard `mapstructure:"guard" jsonschema:"title=Production Guard"`

	// Timeout for execute, parse and plan actions
	QueryTimeout time.Duration `mapstructure:"query_timeout" jsonschema:"title=Query Timeout,default=30s"`

	// Timeout for RESTORE and BACKUP statements
	RestoreTimeout time.Duration `mapstructure:"restore_timeout" jsonschema:"title=Restore Timeout,default=1h"`

	// Default directory for backup files. Must be reachable from the
	// database server
	BackupDir string `mapstructure:"backup_dir" jsonschema:"title=Backup Directory"`
}

// Auth selects integrated (Windows / Kerberos) or SQL authentication
type Auth struct {
	Mode     string `mapstructure:"mode" jsonschema:"title=Mode,enum=integrated,enum=sql,default=integrated"`
	User     string `mapstructure:"user" jsonschema:"title=User"`
	Password string `mapstructure:"password" jsonschema:"title=Password"`

	// Read the password from the OS keychain instead of the config
	Keyring bool `mapstructure:"keyring" jsonschema:"title=Use Keyring,default=false"`
}

// Driver holds go-mssqldb connection settings
type Driver struct {
	// One of true, false, strict or disable
	Encrypt string `mapstructure:"encrypt" jsonschema:"title=Encrypt,enum=true,enum=false,enum=strict,enum=disable"`

	TrustServerCertificate bool `mapstructure:"trust_server_certificate" jsonschema:"title=Trust Server Certificate"`

	DialTimeout time.Duration `mapstructure:"dial_timeout" jsonschema:"title=Dial Timeout,default=15s"`
}

// Inventory locates the inventory database
type Inventory struct {
	Server   string `mapstructure:"server" jsonschema:"title=Inventory Server"`
	Database string `mapstructure:"database" jsonschema:"title=Inventory Database"`

	// Query returning the environment label for @p1
	EnvironmentQuery string `mapstructure:"environment_query" jsonschema:"title=Environment Query"`
}

// Guard configures the production guard
type Guard struct {
	// Labels that block statement execution
	ProductionLabels []string `mapstructure:"production_labels" jsonschema:"title=Production Labels,default=PROD"`

	// Allow servers that are missing from the inventory
	AllowUnregistered bool `mapstructure:"allow_unregistered" jsonschema:"title=Allow Unregistered Servers,default=true"`

	// Cache resolved labels for this long. Zero disables the cache
	CacheTTL time.Duration `mapstructure:"cache_ttl" jsonschema:"title=Label Cache TTL"`
}

// ReadInConfig function reads in the config file for the environment specified in the GO_ENV
// environment variable.
func ReadInConfig(configFile string) (*Config, error) {
	return readInConfig(configFile, nil)
}

// ReadInConfigFS is the same as ReadInConfig but it also takes a filesytem as an argument
func ReadInConfigFS(configFile string, fs afero.Fs) (*Config, error) {
	return readInConfig(configFile, fs)
}

func readInConfig(configFile string, fs afero.Fs) (*Config, error) {
	cp := filepath.Dir(configFile)
	vi := newViper(cp, filepath.Base(configFile))

	if fs != nil {
		vi.SetFs(fs)
	}

	if err := vi.ReadInConfig(); err != nil {
		return nil, err
	}

	if pcf := vi.GetString("inherits"); pcf != "" {
		cf := vi.ConfigFileUsed()
		vi = newViper(cp, pcf)
		if fs != nil {
			vi.SetFs(fs)
		}

		if err := vi.ReadInConfig(); err != nil {
			return nil, err
		}

		if value := vi.GetString("inherits"); value != "" {
			return nil, fmt.Errorf("inherited config '%s' cannot itself inherit '%s'", pcf, value)
		}

		vi.SetConfigFile(cf)

		if err := vi.MergeInConfig(); err != nil {
			return nil, err
		}
	}

	config := &Config{viper: vi}
	if err := vi.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config, %v", err)
	}
	config.ConfigPath = cp

	return config, nil
}

// NewConfig function creates a new configuration from the provided config string
func NewConfig(config, format string) (*Config, error) {
	if format == "" {
		format = "yaml"
	}

	vi := newViperWithDefaults()
	vi.SetConfigType(format)

	if err := vi.ReadConfig(strings.NewReader(config)); err != nil {
		return nil, err
	}

	c := &Config{viper: vi}

	if err := vi.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to decode config, %v", err)
	}

	return c, nil
}

// newViperWithDefaults returns a new viper instance with the default settings.
// Every key has a default so that SC_ environment variables can override it.
func newViperWithDefaults() *viper.Viper {
	vi := viper.New()

	vi.SetDefault("app_name", "sqlconsole")
	vi.SetDefault("production", false)
	vi.SetDefault("host_port", "127.0.0.1:8080")
	vi.SetDefault("host", "")
	vi.SetDefault("port", "")
	vi.SetDefault("web_root", "web")
	vi.SetDefault("http_compress", true)
	vi.SetDefault("serialize_requests", true)
	vi.SetDefault("enable_tracing", false)

	vi.SetDefault("log_level", "info")
	vi.SetDefault("log_format", "auto")

	vi.SetDefault("rate_limiter.rate", 0)
	vi.SetDefault("rate_limiter.bucket", 0)
	vi.SetDefault("rate_limiter.ip_header", "")

	vi.SetDefault("metrics.enable", false)
	vi.SetDefault("metrics.path", "/metrics")

	vi.SetDefault("auth.mode", string(core.AuthIntegrated))
	vi.SetDefault("auth.user", "")
	vi.SetDefault("auth.password", "")
	vi.SetDefault("auth.keyring", false)

	vi.SetDefault("driver.encrypt", "")
	vi.SetDefault("driver.trust_server_certificate", false)
	vi.SetDefault("driver.dial_timeout", "15s")

	vi.SetDefault("inventory.server", "")
	vi.SetDefault("inventory.database", "")
	vi.SetDefault("inventory.environment_query", core.DefaultEnvironmentQuery)

	vi.SetDefault("guard.production_labels", []string{"PROD"})
	vi.SetDefault("guard.allow_unregistered", true)
	vi.SetDefault("guard.cache_ttl", "0s")

	vi.SetDefault("query_timeout", "30s")
	vi.SetDefault("restore_timeout", "1h")
	vi.SetDefault("backup_dir", "")

	vi.SetDefault("env", "development")

	vi.BindEnv("env", "GO_ENV") //nolint:errcheck
	vi.BindEnv("host", "HOST")  //nolint:errcheck
	vi.BindEnv("port", "PORT")  //nolint:errcheck

	// SC_INVENTORY_SERVER overrides inventory.server
	vi.SetEnvPrefix("SC")
	vi.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vi.AutomaticEnv()

	return vi
}

// newViper returns a new viper instance with the default settings
func newViper(configPath, configFile string) *viper.Viper {
	vi := newViperWithDefaults()
	vi.SetConfigName(strings.TrimSuffix(configFile, filepath.Ext(configFile)))

	if configPath == "" {
		vi.AddConfigPath("./config")
	} else {
		vi.AddConfigPath(configPath)
	}

	return vi
}

// rateLimiterEnable returns true if the rate limiter is enabled
func (c *Config) rateLimiterEnable() bool {
	return c.RateLimiter.Rate > 0 && c.RateLimiter.Bucket > 0
}

// ShouldUseJSONLogs returns true if logs should be in JSON format.
// Returns true if log_format is "json" OR if log_format is "auto" and production mode is enabled.
// Returns false otherwise (colored console output for dev mode).
func (c *Config) ShouldUseJSONLogs() bool {
	if c.LogFormat == "json" {
		return true
	}
	if c.LogFormat == "auto" && c.Serv.Production {
		return true
	}
	return false
}

// initHostPort resolves the listen address from host_port, host and port
func (c *Config) initHostPort() {
	hp := strings.SplitN(c.HostPort, ":", 2)

	if len(hp) == 2 {
		if c.Host != "" {
			hp[0] = c.Host
		}
		if c.Port != "" {
			hp[1] = c.Port
		}
		c.hostPort = fmt.Sprintf("%s:%s", hp[0], hp[1])
	}

	if c.hostPort == "" {
		c.hostPort = defaultHP
	}
}

// CoreConfig returns the console settings used by the query dispatcher
func (c *Config) CoreConfig() core.Config {
	return core.Config{
		QueryTimeout:      c.QueryTimeout,
		RestoreTimeout:    c.RestoreTimeout,
		ProductionLabels:  c.Guard.ProductionLabels,
		RequireRegistered: !c.Guard.AllowUnregistered,
		BackupDir:         c.BackupDir,
	}
}

// DriverConfig returns the connection settings for go-mssqldb. The
// password is taken from the keychain when auth.keyring is set.
func (c *Config) DriverConfig(kc *Keychain) (core.DriverConfig, error) {
	creds := core.Credentials{
		Mode:     core.AuthMode(strings.ToLower(c.Auth.Mode)),
		User:     c.Auth.User,
		Password: c.Auth.Password,
	}

	if c.Auth.Keyring && creds.Mode == core.AuthSQL {
		if kc == nil {
			return core.DriverConfig{}, fmt.Errorf("auth.keyring is set but no keychain is available")
		}
		pw, err := kc.Password(creds.User)
		if err != nil {
			return core.DriverConfig{}, err
		}
		creds.Password = pw
	}

	return core.DriverConfig{
		Auth:                   creds,
		Encrypt:                c.Driver.Encrypt,
		TrustServerCertificate: c.Driver.TrustServerCertificate,
		AppName:                c.AppName,
		DialTimeout:            c.Driver.DialTimeout,
	}, nil
}

// InventoryConfig returns the inventory store location
func (c *Config) InventoryConfig() core.InventoryConfig {
	return core.InventoryConfig{
		Server:           c.Inventory.Server,
		Database:         c.Inventory.Database,
		EnvironmentQuery: c.Inventory.EnvironmentQuery,
	}
}

// GetConfigName returns the name of the configuration
func GetConfigName() string {
	goEnv := strings.TrimSpace(strings.ToLower(os.Getenv("GO_ENV")))

	switch goEnv {
	case "production", "prod":
		return "prod"

	case "staging", "stage":
		return "stage"

	case "testing", "test":
		return "test"

	case "development", "dev", "":
		return "dev"

	default:
		return goEnv
	}
}
