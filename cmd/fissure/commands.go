package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/fissure/internal/analysis"
	"github.com/lox/fissure/internal/api"
	"github.com/lox/fissure/internal/config"
	"github.com/lox/fissure/internal/ingest"
	"github.com/lox/fissure/internal/lag"
	"github.com/lox/fissure/internal/metrics"
	"github.com/lox/fissure/internal/models"
	"github.com/lox/fissure/internal/report"
	"github.com/lox/fissure/internal/store"
)

type FetchCmd struct {
	Host       string        `help:"FTP host:port of the sensor logger." required:"" env:"FISSURE_FTP_HOST"`
	User       string        `help:"FTP user." default:"anonymous" env:"FISSURE_FTP_USER"`
	Password   string        `help:"FTP password." default:"anonymous" env:"FISSURE_FTP_PASSWORD"`
	RemotePath string        `help:"Path of the measurement file on the host." required:"" env:"FISSURE_FTP_REMOTE_PATH"`
	LocalPath  string        `help:"Local measurement file to replace." default:"data/measurements.csv" env:"FISSURE_LOCAL_PATH" type:"path"`
	Backup     bool          `help:"Keep yesterday's copy before replacing." default:"true" negatable:"" env:"FISSURE_FETCH_BACKUP"`
	Timeout    time.Duration `help:"Dial timeout." default:"30s" env:"FISSURE_FTP_TIMEOUT"`
	MaxElapsed time.Duration `help:"Give up retrying after this long." default:"2m" env:"FISSURE_FTP_MAX_ELAPSED"`
}

func (c *FetchCmd) Run(a *app) error {
	cfg := config.DefaultFetch()
	cfg.Host = c.Host
	cfg.User = c.User
	cfg.Password = c.Password
	cfg.RemotePath = c.RemotePath
	cfg.LocalPath = c.LocalPath
	cfg.Backup = c.Backup
	cfg.Timeout = c.Timeout
	cfg.MaxElapsed = c.MaxElapsed

	res, err := ingest.NewFetcher(cfg, clockwork.NewRealClock(), a.logger).Fetch(a.ctx)
	if err != nil {
		return err
	}
	if res.BackupPath != "" {
		a.logger.Infof("previous file kept at %s", res.BackupPath)
	}
	a.logger.Infof("fetched %d bytes into %s", res.Bytes, res.LocalPath)
	return nil
}

type AnalyzeCmd struct {
	Input string `arg:"" help:"Sensor file (csv or xlsx)." type:"existingfile"`

	Start           time.Time     `help:"First day to keep (YYYY-MM-DD)." format:"2006-01-02" env:"FISSURE_START"`
	End             time.Time     `help:"Last day to keep, inclusive (YYYY-MM-DD)." format:"2006-01-02" env:"FISSURE_END"`
	MinInterval     time.Duration `help:"Drop samples closer than this to the previous one." default:"10s" env:"FISSURE_MIN_INTERVAL"`
	Sheet           string        `help:"Worksheet to read from xlsx input (default first)." env:"FISSURE_SHEET"`
	TimestampColumn int           `help:"0-based timestamp column in xlsx input." default:"0"`
	ValueColumn     int           `help:"0-based value column in xlsx input." default:"1"`

	AssumeNormal     bool    `help:"Flag confidence intervals as normal-theory." default:"true" negatable:""`
	PlateauTolerance float64 `help:"Absolute tolerance for min/max plateaus." default:"0.0001"`
	Workers          int     `help:"Parallel day workers." default:"4" env:"FISSURE_WORKERS"`
	Sequential       bool    `help:"Process days one at a time."`

	Out         string `help:"Directory for CSV tables." default:"out" env:"FISSURE_OUT" type:"path"`
	NoCSV       bool   `help:"Skip CSV output."`
	MetricsFile string `help:"Write Prometheus textfile metrics to this path." env:"FISSURE_METRICS_FILE" type:"path"`
}

func (c *AnalyzeCmd) loadConfig(loc *time.Location) config.Load {
	cfg := config.DefaultLoad()
	cfg.Location = loc
	cfg.MinInterval = c.MinInterval
	cfg.Sheet = c.Sheet
	cfg.TimestampColumn = c.TimestampColumn
	cfg.ValueColumn = c.ValueColumn
	if !c.Start.IsZero() {
		cfg.Start = time.Date(c.Start.Year(), c.Start.Month(), c.Start.Day(), 0, 0, 0, 0, loc)
	}
	if !c.End.IsZero() {
		cfg.End = time.Date(c.End.Year(), c.End.Month(), c.End.Day(), 0, 0, 0, 0, loc)
	}
	return cfg
}

func (c *AnalyzeCmd) analysisConfig() config.Analysis {
	cfg := config.DefaultAnalysis()
	cfg.AssumeNormal = c.AssumeNormal
	cfg.PlateauTolerance = c.PlateauTolerance
	cfg.Workers = c.Workers
	cfg.Parallel = !c.Sequential
	return cfg
}

func (c *AnalyzeCmd) Run(a *app) error {
	st, closeDB, err := a.openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	run, err := st.StartRun(models.RunKindAnalyze, c.Input)
	if err != nil {
		return err
	}
	if err := c.analyze(a, st, run); err != nil {
		if ferr := st.FailRun(run, err); ferr != nil {
			a.logger.Warnf("record failed run: %v", ferr)
		}
		return err
	}
	return c.writeMetrics(a)
}

func (c *AnalyzeCmd) analyze(a *app, st *store.Store, run *models.AnalysisRun) error {
	samples, rep, err := ingest.LoadSamples(c.Input, c.loadConfig(a.loc))
	if err != nil {
		return fmt.Errorf("load %s: %w", c.Input, err)
	}
	a.logger.Infof("loaded %d of %d rows from %s (%d bad timestamps, %d out of range, %d too close, %d undefined)",
		rep.Kept, rep.Rows, c.Input, rep.BadTimestamp, rep.OutOfRange, rep.TooClose, rep.Undefined)

	res, err := analysis.NewPipeline(c.analysisConfig(), a.logger).Run(samples)
	if err != nil {
		return err
	}
	if res.HasExtremes {
		a.logger.Infof("half-hour profile: mean peaks at %.1fh, bottoms at %.1fh; median peaks at %.1fh, bottoms at %.1fh",
			res.Extremes.MaxHalfMean, res.Extremes.MinHalfMean, res.Extremes.MaxHalfMedian, res.Extremes.MinHalfMedian)
	}

	tables := storeTables(res)
	if err := st.SaveAnalysis(run.ID, tables); err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}

	run.Success = true
	run.SampleCount = res.SampleCount
	run.DayCount = len(res.Daily.Stats)
	run.EventCount = len(res.Events)
	run.GlobalMin = res.Daily.Bounds.Min
	run.GlobalMax = res.Daily.Bounds.Max
	if err := st.CompleteRun(run); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	a.logger.Infof("stored run %s", run.ID)

	if c.NoCSV {
		return nil
	}
	written, err := report.WriteAnalysis(report.Stamp(c.Out, run.StartedAt), tables)
	if err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	a.logger.Infof("wrote %d tables to %s", len(written), report.Stamp(c.Out, run.StartedAt))
	return nil
}

func (c *AnalyzeCmd) writeMetrics(a *app) error {
	if c.MetricsFile == "" {
		return nil
	}
	if err := metrics.WriteTextfile(c.MetricsFile); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	a.logger.Debugf("metrics written to %s", c.MetricsFile)
	return nil
}

// storeTables flattens a pipeline result into the tables persisted per run.
func storeTables(res *analysis.Result) store.Analysis {
	return store.Analysis{
		Daily:         res.Daily.Stats,
		Events:        res.Events,
		Central:       res.Central,
		MeanRows:      res.HalfHour.Mean,
		MedianRows:    res.HalfHour.Median,
		MeanProfile:   res.HalfHour.MeanProfile,
		MedianProfile: res.HalfHour.MedianProfile,
		DayBins:       res.DayBins,
	}
}

type LagCmd struct {
	Wall    string `arg:"" help:"Manual wall readings (csv or xlsx)." type:"existingfile"`
	Weather string `arg:"" help:"Hourly weather export (csv or xlsx) with a Time column." type:"existingfile"`

	MeasureHour int      `help:"Hour of day the wall readings are taken." default:"7" env:"FISSURE_MEASURE_HOUR"`
	MaxLag      int      `help:"Largest lag in hours." default:"360" env:"FISSURE_MAX_LAG"`
	Top         int      `help:"Number of ranked features to keep and fit." default:"20" env:"FISSURE_TOP_FEATURES"`
	Variables   []string `help:"Weather columns to lag (default: the weather station export columns)." env:"FISSURE_WEATHER_VARIABLES"`
	Out         string   `help:"Directory for CSV tables." default:"out" env:"FISSURE_OUT" type:"path"`
	NoCSV       bool     `help:"Skip CSV output."`
}

func (c *LagCmd) config() config.Lag {
	cfg := config.DefaultLag()
	cfg.MeasureHour = c.MeasureHour
	cfg.MaxLagHours = c.MaxLag
	cfg.TopFeatures = c.Top
	if len(c.Variables) > 0 {
		cfg.Variables = c.Variables
	}
	return cfg
}

func (c *LagCmd) Run(a *app) error {
	cfg := c.config()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("lag config: %w", err)
	}

	st, closeDB, err := a.openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	run, err := st.StartRun(models.RunKindLag, c.Wall)
	if err != nil {
		return err
	}
	if err := c.analyze(a, st, run, cfg); err != nil {
		if ferr := st.FailRun(run, err); ferr != nil {
			a.logger.Warnf("record failed run: %v", ferr)
		}
		return err
	}
	return nil
}

func (c *LagCmd) analyze(a *app, st *store.Store, run *models.AnalysisRun, cfg config.Lag) error {
	readings, err := ingest.LoadWallReadings(c.Wall, a.loc)
	if err != nil {
		return fmt.Errorf("load wall readings: %w", err)
	}
	weather, err := ingest.LoadWeather(c.Weather, cfg.Variables, a.loc)
	if err != nil {
		return fmt.Errorf("load weather: %w", err)
	}

	rep, err := lag.Analyze(readings, weather, cfg, a.logger)
	if err != nil {
		return err
	}
	fit := rep.Summary()
	if err := st.SaveLag(run.ID, rep.Scores, fit); err != nil {
		return fmt.Errorf("save lag: %w", err)
	}

	run.Success = true
	run.SampleCount = rep.Readings
	run.DayCount = rep.Readings
	if err := st.CompleteRun(run); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	a.logger.Infof("stored lag run %s (%d features ranked)", run.ID, len(rep.Scores))

	if c.NoCSV {
		return nil
	}
	dir := report.Stamp(c.Out, run.StartedAt)
	if _, err := report.WriteLag(dir, rep.Scores, fit); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	a.logger.Infof("wrote lag tables to %s", dir)
	return nil
}

type NarrateCmd struct {
	RunID     string `arg:"" name:"run" optional:"" help:"Run id to summarize (default latest analysis)."`
	APIKey    string `help:"OpenAI API key." env:"OPENAI_API_KEY" required:""`
	Model     string `help:"Chat model." default:"gpt-4o-mini" env:"FISSURE_NARRATE_MODEL"`
	MaxTokens int    `help:"Completion token limit." default:"600"`
	Days      int    `help:"Most recent days to include." default:"31"`
	Output    string `short:"o" help:"Write the summary to this file instead of stdout." type:"path"`
}

func (c *NarrateCmd) Run(a *app) error {
	cfg := config.DefaultNarrate()
	cfg.APIKey = c.APIKey
	cfg.Model = c.Model
	cfg.MaxTokens = c.MaxTokens
	cfg.Days = c.Days

	narrator, err := report.NewNarrator(cfg, a.logger)
	if err != nil {
		return err
	}

	st, closeDB, err := a.openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	in, err := narrateInput(st, c.RunID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(a.ctx, 2*time.Minute)
	defer cancel()
	text, err := narrator.Summarize(ctx, in)
	if err != nil {
		return err
	}

	if c.Output == "" {
		fmt.Println(text)
		return nil
	}
	return os.WriteFile(c.Output, []byte(text+"\n"), 0o644)
}

// narrateInput gathers a run's tables, plus the latest lag fit when one exists.
func narrateInput(st *store.Store, id string) (report.Input, error) {
	var run *models.AnalysisRun
	var err error
	if id == "" {
		run, err = st.LatestRun(models.RunKindAnalyze)
	} else {
		run, err = st.GetRun(id)
	}
	if err != nil {
		if id == "" {
			id = "latest"
		}
		return report.Input{}, fmt.Errorf("find run %s: %w", id, err)
	}
	if run.Kind != models.RunKindAnalyze {
		return report.Input{}, fmt.Errorf("run %s is a %s run; narrate needs an analysis run", run.ID, run.Kind)
	}

	in := report.Input{Run: run}
	if in.Daily, err = st.GetDailyStats(run.ID); err != nil {
		return in, err
	}
	if in.Events, err = st.GetExtremaEvents(run.ID); err != nil {
		return in, err
	}

	lagRun, err := st.LatestRun(models.RunKindLag)
	switch {
	case errors.Is(err, store.ErrRunNotFound):
	case err != nil:
		return in, err
	default:
		if in.Fit, err = st.GetLagFit(lagRun.ID); err != nil {
			return in, err
		}
	}
	return in, nil
}

type ServeCmd struct {
	Addr string `help:"Listen address." default:":8080" env:"FISSURE_ADDR"`
}

func (c *ServeCmd) Run(a *app) error {
	st, closeDB, err := a.openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	return api.NewServer(st, c.Addr, a.logger).Run(a.ctx)
}

type MigrateCmd struct{}

func (c *MigrateCmd) Run(a *app) error {
	st, closeDB, err := a.openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	version, err := st.MigrationVersion()
	if err != nil {
		return err
	}
	a.logger.Infof("database %s at schema version %d", a.dbPath, version)
	return nil
}
