package report

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"

	"github.com/lox/fissure/internal/config"
	"github.com/lox/fissure/internal/httputil"
	"github.com/lox/fissure/internal/models"
)

const systemPrompt = `You are a structural monitoring engineer. You write short, factual summaries of crack
displacement measurements for building owners. Values are crack gauge readings in inches;
daily differences are in millimetres. Mention the overall envelope, days with unusual
movement, and the typical time of day of the daily maximum and minimum. Do not speculate
about causes beyond what the numbers show. Plain text, at most three short paragraphs.`

// Narrator turns a stored run into a plain-language summary using a chat model.
type Narrator struct {
	client openai.Client
	cfg    config.Narrate
	logger *zap.SugaredLogger
}

// NewNarrator builds a narrator. Extra options are applied after the defaults,
// which lets callers point the client at another base URL.
func NewNarrator(cfg config.Narrate, logger *zap.SugaredLogger, opts ...option.RequestOption) (*Narrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("narrate config: %w", err)
	}

	base := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httputil.NewClient()),
	}
	return &Narrator{
		client: openai.NewClient(append(base, opts...)...),
		cfg:    cfg,
		logger: logger.Named("narrate"),
	}, nil
}

// Input is what a summary is written from.
type Input struct {
	Run    *models.AnalysisRun
	Daily  []models.DailyStat
	Events []models.ExtremaEvent
	Fit    *models.LagFit
}

// Summarize asks the model for a narrative of in.
func (n *Narrator) Summarize(ctx context.Context, in Input) (string, error) {
	if in.Run == nil {
		return "", errors.New("run is required")
	}
	prompt := BuildPrompt(in, n.cfg.Days)

	n.logger.Infof("summarizing run %s (%d days) with %s", in.Run.ID, len(in.Daily), n.cfg.Model)

	resp, err := n.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: n.cfg.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		MaxCompletionTokens: openai.Int(int64(n.cfg.MaxTokens)),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no completion returned")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("empty completion returned")
	}
	return text, nil
}

// BuildPrompt renders the run as compact text tables. Only the most recent
// maxDays daily rows are included.
func BuildPrompt(in Input, maxDays int) string {
	var b strings.Builder
	run := in.Run

	fmt.Fprintf(&b, "Run %s (%s) from %s\n", run.ID, run.Kind, run.StartedAt.Format(timeLayout))
	if run.SourcePath != "" {
		fmt.Fprintf(&b, "Source: %s\n", run.SourcePath)
	}
	fmt.Fprintf(&b, "Samples: %d, days: %d, extrema events: %d\n", run.SampleCount, run.DayCount, run.EventCount)
	if run.GlobalMin.Valid && run.GlobalMax.Valid {
		fmt.Fprintf(&b, "Envelope of daily interior values: %s to %s in\n",
			formatFloat(run.GlobalMin.Float64), formatFloat(run.GlobalMax.Float64))
	}

	daily := in.Daily
	if maxDays > 0 && len(daily) > maxDays {
		fmt.Fprintf(&b, "(showing the last %d of %d days)\n", maxDays, len(daily))
		daily = daily[len(daily)-maxDays:]
	}
	if len(daily) > 0 {
		b.WriteString("\nday,samples,min,max,mean,diff_mm,ci_lower,ci_upper\n")
		for _, d := range daily {
			fmt.Fprintf(&b, "%s,%d,%s,%s,%s,%s,%s,%s\n",
				d.Day.Format(dayLayout), d.Samples,
				formatNull(d.Min), formatNull(d.Max), formatNull(d.Mean),
				formatNull(d.DiffMM), formatNull(d.CILower), formatNull(d.CIUpper))
		}
	}

	if len(in.Events) > 0 {
		b.WriteString("\nday,time_max,time_min\n")
		events := in.Events
		if maxDays > 0 && len(events) > maxDays {
			events = events[len(events)-maxDays:]
		}
		for _, e := range events {
			fmt.Fprintf(&b, "%s,%s,%s\n", e.Day.Format(dayLayout), e.TimeMax.Format("15:04"), e.TimeMin.Format("15:04"))
		}
	}

	if f := in.Fit; f != nil {
		fmt.Fprintf(&b, "\nWeather regression over %d wall readings: R2=%s RMSE=%s\n",
			f.Readings, formatFloat(f.R2), formatFloat(f.RMSE))
		for _, c := range f.Coefficients {
			fmt.Fprintf(&b, "  %s: %s\n", c.Feature, formatFloat(c.Coefficient))
		}
	}
	return b.String()
}
