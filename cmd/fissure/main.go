package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	"go.uber.org/zap"

	"github.com/lox/fissure/internal/store"
)

type Globals struct {
	EnvFile  kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to .env file.'"`
	Debug    bool                     `help:"Enable debug logging." env:"FISSURE_DEBUG"`
	DB       string                   `help:"Path to SQLite database." default:"data/fissure.db" env:"FISSURE_DB" type:"path"`
	Timezone string                   `name:"tz" help:"IANA timezone that defines calendar days." default:"UTC" env:"FISSURE_TZ"`
}

type CLI struct {
	Globals

	Fetch   FetchCmd   `cmd:"" help:"Download the sensor file from the logger host."`
	Analyze AnalyzeCmd `cmd:"" help:"Run the daily extrema analysis on a sensor file."`
	Lag     LagCmd     `cmd:"" help:"Correlate wall readings with lagged weather variables."`
	Narrate NarrateCmd `cmd:"" help:"Write a plain-language summary of a stored run."`
	Serve   ServeCmd   `cmd:"" help:"Serve stored runs as JSON."`
	Migrate MigrateCmd `cmd:"" help:"Apply database migrations."`
}

// app carries what every command needs once flags are parsed.
type app struct {
	ctx    context.Context
	logger *zap.SugaredLogger
	loc    *time.Location
	dbPath string
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// openStore opens and migrates the database. Callers must call the returned
// close func.
func (a *app) openStore() (*store.Store, func(), error) {
	if dir := filepath.Dir(a.dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	db, err := store.Open(a.dbPath)
	if err != nil {
		return nil, nil, err
	}
	st := store.New(db, a.loc, a.logger)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return st, func() { db.Close() }, nil
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("fissure"),
		kong.Description("Crack displacement analysis: daily extrema, half-hour profiles and lagged weather correlation."),
		kong.UsageOnError(),
	)

	zl, err := newLogger(cli.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer zl.Sync()
	logger := zl.Sugar()

	loc, err := time.LoadLocation(cli.Timezone)
	if err != nil {
		logger.Fatalf("load timezone %q: %v", cli.Timezone, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a := &app{ctx: ctx, logger: logger, loc: loc, dbPath: cli.DB}
	if err := kctx.Run(a); err != nil {
		logger.Errorf("%s: %v", kctx.Command(), err)
		zl.Sync()
		os.Exit(1)
	}
}
