package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// cliOptions mirrors the teacher's cmd/psqldef option struct: argv
// flags parsed by go-flags, one field per connection/runtime setting.
type cliOptions struct {
	Dialect    string `long:"dialect" description:"postgres, mysql, singlestore, sqlite, or duckdb" value-name:"name"`
	DSN        string `long:"dsn" description:"driver-specific connection string; overrides host/port/user/password" value-name:"dsn"`
	Host       string `short:"h" long:"host" description:"database host" value-name:"hostname"`
	Port       int    `short:"p" long:"port" description:"database port" value-name:"port"`
	User       string `short:"U" long:"user" description:"database user" value-name:"username"`
	Password   string `short:"W" long:"password" description:"database password; $SEMLAYER_DB_PASSWORD is used when unset" value-name:"password"`
	Prompt     bool   `long:"password-prompt" description:"Force a password prompt instead of reading --password/$SEMLAYER_DB_PASSWORD"`
	DBName     string `long:"dbname" description:"database name, or file path for sqlite/duckdb" value-name:"name"`
	SchemaFile string `long:"schema" description:"path to the cube-definition YAML file" value-name:"path"`
	Addr       string `long:"addr" description:"HTTP listen address" value-name:"addr" default:":4000"`
	LogLevel   string `long:"log-level" description:"debug, info, warn, or error" value-name:"level"`
	JWTSecret  string `long:"jwt-secret" description:"HMAC secret validating bearer tokens; $SEMLAYER_JWT_SECRET is used when unset" value-name:"secret"`
	PGDriver   string `long:"pg-driver" description:"postgres driver to register: pgx (default) or pq" value-name:"driver"`
	Debug      bool   `long:"debug" description:"pretty-print every compiled statement and its bound parameters to stderr"`
	Help       bool   `long:"help" description:"Show this help"`
}

// Config is the resolved runtime configuration: go-flags parses argv,
// viper overlays environment variables (and an optional config file)
// on top, the same two-stage resolution the teacher's psqldef.go
// (argv via go-flags) and the pack's defmans7-notifuse config.go
// (env/file via viper) each do separately — semlayerd needs both, so
// it composes them instead of replacing one with the other.
type Config struct {
	Dialect    string
	DSN        string
	Host       string
	Port       int
	User       string
	Password   string
	DBName     string
	SchemaFile string
	Addr       string
	LogLevel   string
	JWTSecret  string
	PGDriver   string
	Debug      bool
}

// LoadConfig parses args, then lets SEMLAYER_*-prefixed environment
// variables and an optional ./semlayerd.yaml fill in anything argv
// left at its zero value.
func LoadConfig(args []string) (*Config, error) {
	var opts cliOptions
	parser := flags.NewParser(&opts, flags.None)
	parser.Usage = "[options]"
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	if opts.Help {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}

	password := opts.Password
	if opts.Prompt {
		// Grounded on the teacher's cmd/psqldef/psqldef.go password
		// prompt: term.ReadPassword avoids echoing the password to the
		// terminal.
		fmt.Print("Enter Password: ")
		pass, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return nil, fmt.Errorf("reading password: %w", err)
		}
		password = string(pass)
	}

	v := viper.New()
	v.SetEnvPrefix("SEMLAYER")
	v.AutomaticEnv()
	v.SetConfigName("semlayerd")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetDefault("DIALECT", "postgres")
	v.SetDefault("ADDR", ":4000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", 0)
	v.SetDefault("PG_DRIVER", "pgx")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &Config{
		Dialect:    firstNonEmpty(opts.Dialect, v.GetString("DIALECT")),
		DSN:        firstNonEmpty(opts.DSN, v.GetString("DSN")),
		Host:       firstNonEmpty(opts.Host, v.GetString("HOST")),
		Port:       firstNonZeroInt(opts.Port, v.GetInt("PORT")),
		User:       firstNonEmpty(opts.User, v.GetString("USER")),
		Password:   firstNonEmpty(password, v.GetString("DB_PASSWORD")),
		DBName:     firstNonEmpty(opts.DBName, v.GetString("DBNAME")),
		SchemaFile: firstNonEmpty(opts.SchemaFile, v.GetString("SCHEMA")),
		Addr:       firstNonEmpty(opts.Addr, v.GetString("ADDR")),
		LogLevel:   firstNonEmpty(opts.LogLevel, v.GetString("LOG_LEVEL")),
		JWTSecret:  firstNonEmpty(opts.JWTSecret, v.GetString("JWT_SECRET")),
		PGDriver:   firstNonEmpty(opts.PGDriver, v.GetString("PG_DRIVER")),
		Debug:      opts.Debug || v.GetBool("DEBUG"),
	}
	if cfg.SchemaFile == "" {
		return nil, fmt.Errorf("--schema (or SEMLAYER_SCHEMA) is required")
	}
	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonZeroInt(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
