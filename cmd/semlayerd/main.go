// Command semlayerd serves the transport from spec.md §6 over the
// engine package: it owns the one thing the core explicitly refuses
// to own (an open connection pool), parses argv/env into a Config,
// and wires a *sql.DB into engine.New.
//
// Grounded on the teacher's cmd/psqldef/psqldef.go: parse options,
// open the database, run. psqldef's "run" is GenerateIdempotentDDLs
// followed by apply/dry-run; semlayerd's is serving HTTP until a
// signal arrives, so signal.NotifyContext governs shutdown here the
// same way it governs psqldef's single Run call.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/marcboeker/go-duckdb"
	_ "modernc.org/sqlite"

	"github.com/rs/zerolog/log"

	"github.com/k0kubun/semlayer/cube"
	"github.com/k0kubun/semlayer/dialect"
	"github.com/k0kubun/semlayer/dialect/duckdb"
	"github.com/k0kubun/semlayer/dialect/mysql"
	"github.com/k0kubun/semlayer/dialect/postgres"
	"github.com/k0kubun/semlayer/dialect/singlestore"
	sqlitedialect "github.com/k0kubun/semlayer/dialect/sqlite"
	"github.com/k0kubun/semlayer/engine"
	"github.com/k0kubun/semlayer/executor"
	"github.com/k0kubun/semlayer/util"
)

func main() {
	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	os.Setenv("LOG_LEVEL", cfg.LogLevel)
	util.InitLogger()

	adapter, err := dialect.ByName(cfg.Dialect)
	if err != nil {
		log.Fatal().Err(err).Msg("unknown dialect")
	}

	driverName, dsn := driverAndDSN(cfg)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}

	schemaBytes, err := os.ReadFile(cfg.SchemaFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read schema file")
	}
	registry := cube.New()
	if err := cube.LoadYAML(registry, schemaBytes); err != nil {
		log.Fatal().Err(err).Msg("failed to load cube definitions")
	}

	eng := engine.New(registry, adapter, executor.New(db))
	srv := &server{engine: eng, debug: cfg.Debug}

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: newMux(srv, cfg.JWTSecret),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", cfg.Addr).Str("dialect", cfg.Dialect).Msg("semlayerd listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// driverAndDSN picks the database/sql driver name and assembles a DSN
// from cfg, using each dialect package's own BuildDSN/DSN function —
// semlayerd never hand-assembles a connection string itself.
func driverAndDSN(cfg *Config) (driverName, dsn string) {
	if cfg.DSN != "" {
		return sqlDriverFor(cfg), cfg.DSN
	}
	switch cfg.Dialect {
	case "postgres", "postgresql":
		return sqlDriverFor(cfg), postgres.BuildDSN(cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName, "")
	case "mysql":
		return "mysql", mysql.BuildDSN(mysql.Config{
			User: cfg.User, Password: cfg.Password, DbName: cfg.DBName,
			Host: cfg.Host, Port: cfg.Port,
		})
	case "singlestore":
		return "mysql", singlestore.BuildDSN(cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)
	case "sqlite", "sqlite3":
		return "sqlite", sqlitedialect.DSN(cfg.DBName)
	case "duckdb":
		return "duckdb", duckdb.DSN(cfg.DBName)
	}
	return cfg.Dialect, cfg.DSN
}

// sqlDriverFor picks the registered database/sql driver name. For
// postgres, cfg.PGDriver chooses between the two drivers both pulled
// in via blank import: "pgx" (jackc/pgx/v5/stdlib, the default) or
// "pq" (lib/pq, the teacher's driver).
func sqlDriverFor(cfg *Config) string {
	switch cfg.Dialect {
	case "postgres", "postgresql":
		if cfg.PGDriver == "pq" {
			return "postgres"
		}
		return "pgx"
	case "mysql", "singlestore":
		return "mysql"
	case "sqlite", "sqlite3":
		return "sqlite"
	case "duckdb":
		return "duckdb"
	}
	return cfg.Dialect
}
