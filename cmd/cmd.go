package main

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/thessem/zap-prettyconsole"
	"go.uber.org/zap"

	"github.com/sqlops/sqlconsole/serv"
)

var (
	// These variables are set using -ldflags
	version string
	commit  string
	date    string
)

var (
	log   *zap.SugaredLogger
	conf  *serv.Config
	cpath string
)

// Cmd is the entry point for the CLI
func Cmd() {
	log = newLogger().Sugar()

	cobra.EnableCommandSorting = false
	rootCmd := &cobra.Command{
		Use:           "sqlconsole",
		Short:         BuildDetails(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cpath,
		"path", "./config", "path to config files")

	// Add --config as an alias for --path
	rootCmd.PersistentFlags().StringVar(&cpath,
		"config", "./config", "alias for --path")
	rootCmd.PersistentFlags().MarkHidden("config") //nolint:errcheck

	rootCmd.AddCommand(servCmd())
	rootCmd.AddCommand(execCmd())
	rootCmd.AddCommand(objectsCmd())
	rootCmd.AddCommand(envCmd())
	rootCmd.AddCommand(backupCmd())
	rootCmd.AddCommand(restoreCmd())
	rootCmd.AddCommand(refreshCmd())
	rootCmd.AddCommand(credsCmd())
	rootCmd.AddCommand(confCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("%s", err)
	}
}

// setup is a helper function to read the config file. A missing config
// directory is created with a default dev config.
func setup(cpath string) {
	if conf != nil {
		return
	}

	cp, err := filepath.Abs(cpath)
	if err != nil {
		log.Fatal(err)
	}

	cn := serv.GetConfigName()

	if _, err := os.Stat(cp); os.IsNotExist(err) {
		if err := os.MkdirAll(cp, os.ModePerm); err != nil {
			log.Fatalf("Failed to create config directory: %s", err)
		}
		configFile := filepath.Join(cp, cn+".yml")
		if err := os.WriteFile(configFile, []byte(defaultConfig), 0o600); err != nil {
			log.Fatalf("Failed to write default config: %s", err)
		}
		log.Infof("Created default config: %s", configFile)
	}

	if conf, err = serv.ReadInConfig(path.Join(cp, cn)); err != nil {
		log.Fatal(err)
	}
}

const defaultConfig = `# sqlconsole configuration
app_name: sqlconsole
host_port: 127.0.0.1:8080
web_root: web
log_level: info

auth:
  mode: integrated

inventory:
  server: ""
  database: Inventory

guard:
  production_labels: [PROD]
  allow_unregistered: true

query_timeout: 30s
restore_timeout: 1h
`

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Version information",
		Run: func(*cobra.Command, []string) {
			fmt.Println(BuildDetails())
		},
	}
}

// BuildDetails returns the version, commit and build date
func BuildDetails() string {
	if version == "" {
		return "sqlconsole (unknown version)"
	}
	return fmt.Sprintf(`sqlconsole %s
Commit SHA-1          : %s
Commit timestamp     : %s
Go version           : %s`, version, commit, date, runtime.Version())
}

// newLogger creates the CLI logger. It writes to stderr so query results
// on stdout can be piped.
func newLogger() *zap.Logger {
	return prettyconsole.NewLogger(zap.DebugLevel)
}
