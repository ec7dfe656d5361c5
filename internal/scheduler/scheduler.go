package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/xaenox/teams-extractor/internal/extractor"
	"github.com/xaenox/teams-extractor/internal/models"
)

// defaultLookback is the extraction window of a job run whose filter
// carries no start date: everything since the previous tick would have
// seen, approximated as a fixed window ending at the run instant.
const defaultLookback = time.Hour

// Runner is the slice of the extractor the scheduler depends on.
type Runner interface {
	Extract(ctx context.Context, filter models.ExtractionFilter, progress extractor.ProgressFunc) models.ExtractionResult
}

// Job is one recurring extraction. Schedule is either a five-field cron
// expression ("0 */6 * * *") or an interval ("interval:1h", "interval:30m",
// "interval:1d"). A job without a start date extracts a sliding window
// ending at each run instant.
type Job struct {
	Name      string
	Schedule  string
	Filter    models.ExtractionFilter
	OutputDir string
	Enabled   bool
}

type job struct {
	Job
	schedule cron.Schedule
}

// Scheduler runs extraction jobs on their schedules until its context is
// cancelled. Each job runs in its own goroutine; a failed run is logged
// and the schedule keeps ticking.
type Scheduler struct {
	runner Runner
	log    *zap.Logger
	jobs   []*job
	wg     sync.WaitGroup

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func New(runner Runner, log *zap.Logger) *Scheduler {
	return &Scheduler{
		runner: runner,
		log:    log,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Add registers a job. Disabled jobs are skipped with a log line, an
// unparseable schedule is an error.
func (s *Scheduler) Add(j Job) error {
	if !j.Enabled {
		s.log.Info("job disabled, skipping", zap.String("job", j.Name))
		return nil
	}
	schedule, err := parseSchedule(j.Schedule)
	if err != nil {
		return fmt.Errorf("job %s: %w", j.Name, err)
	}
	if j.OutputDir == "" {
		j.OutputDir = "output"
	}
	s.jobs = append(s.jobs, &job{Job: j, schedule: schedule})
	s.log.Info("job scheduled",
		zap.String("job", j.Name),
		zap.String("schedule", j.Schedule))
	return nil
}

// Jobs reports the number of active jobs.
func (s *Scheduler) Jobs() int {
	return len(s.jobs)
}

// Start launches every registered job. It returns immediately; use Wait
// to block until cancellation stops all job loops.
func (s *Scheduler) Start(ctx context.Context) {
	for _, j := range s.jobs {
		s.wg.Add(1)
		go func(j *job) {
			defer s.wg.Done()
			s.loop(ctx, j)
		}(j)
	}
	s.log.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Wait blocks until all job loops exit.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	for {
		now := s.now()
		next := j.schedule.Next(now)
		if err := s.sleep(ctx, next.Sub(now)); err != nil {
			return
		}
		s.run(ctx, j)
	}
}

func (s *Scheduler) run(ctx context.Context, j *job) {
	now := s.now()
	filter := j.Filter
	if filter.StartDate == nil {
		start := now.Add(-defaultLookback)
		filter.StartDate = &start
	}
	if filter.EndDate == nil {
		end := now
		filter.EndDate = &end
	}

	s.log.Info("job run starting", zap.String("job", j.Name))
	result := s.runner.Extract(ctx, filter, nil)

	path, err := s.writeResult(j, result, now)
	if err != nil {
		s.log.Error("job run could not write result",
			zap.String("job", j.Name),
			zap.String("run_id", result.RunID),
			zap.Error(err))
		return
	}

	s.log.Info("job run complete",
		zap.String("job", j.Name),
		zap.String("run_id", result.RunID),
		zap.Int("messages", len(result.Messages)),
		zap.Int("errors", len(result.Errors)),
		zap.String("output", path))
}

func (s *Scheduler) writeResult(j *job, result models.ExtractionResult, now time.Time) (string, error) {
	if err := os.MkdirAll(j.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.json", j.Name, now.Format("20060102_150405"))
	path := filepath.Join(j.OutputDir, name)

	doc := struct {
		models.ExtractionResult
		Statistics models.Statistics `json:"statistics"`
	}{result, result.Statistics()}

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	return path, nil
}

// parseSchedule turns a schedule string into its trigger. Intervals use
// the "interval:<n><h|m|d>" form; anything else is parsed as a standard
// cron expression.
func parseSchedule(spec string) (cron.Schedule, error) {
	if raw, ok := strings.CutPrefix(spec, "interval:"); ok {
		d, err := parseInterval(raw)
		if err != nil {
			return nil, err
		}
		return cron.Every(d), nil
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return schedule, nil
}

func parseInterval(raw string) (time.Duration, error) {
	if len(raw) < 2 {
		return 0, fmt.Errorf("invalid interval %q", raw)
	}
	var unit time.Duration
	switch raw[len(raw)-1] {
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid interval %q", raw)
	}
	var n int
	if _, err := fmt.Sscanf(raw[:len(raw)-1], "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", raw)
	}
	return time.Duration(n) * unit, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
