package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/KotFed0t/etf_portfolio_tracker/utils"
	"github.com/go-co-op/gocron/v2"
)

var ErrNoSchedule = errors.New("neither interval nor crontab is set")

type taskFn func(ctx context.Context) error

// Job is a background task. Exactly one of Interval and Crontab must be set.
// Timeout bounds a single run; zero means no limit.
type Job struct {
	Name             string
	Task             taskFn
	Interval         time.Duration
	Crontab          string
	StartImmediately bool
	Timeout          time.Duration
}

type Scheduler struct {
	scheduler gocron.Scheduler
}

func New() *Scheduler {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		panic(err.Error())
	}
	return &Scheduler{scheduler: scheduler}
}

func (s *Scheduler) Start() {
	slog.Info("scheduler started", slog.Int("jobs", len(s.scheduler.Jobs())))
	s.scheduler.Start()
}

func (s *Scheduler) Stop() {
	if err := s.scheduler.Shutdown(); err != nil {
		slog.Error("scheduler shutdown error", slog.String("err", err.Error()))
	}
}

func (s *Scheduler) Register(jobs ...Job) error {
	for _, job := range jobs {
		definition, err := job.definition()
		if err != nil {
			return err
		}

		opts := []gocron.JobOption{
			gocron.WithName(job.Name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		}
		if job.StartImmediately {
			opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
		}

		_, err = s.scheduler.NewJob(definition, gocron.NewTask(s.taskWithRecover(job)), opts...)
		if err != nil {
			slog.Error("Scheduler creating job error", slog.String("jobName", job.Name), slog.String("err", err.Error()))
			return fmt.Errorf("job %q: %w", job.Name, err)
		}
	}
	return nil
}

func (j Job) definition() (gocron.JobDefinition, error) {
	switch {
	case j.Task == nil:
		return nil, fmt.Errorf("job %q: task is nil", j.Name)
	case j.Interval > 0 && j.Crontab != "":
		return nil, fmt.Errorf("job %q: both interval and crontab are set", j.Name)
	case j.Interval > 0:
		return gocron.DurationJob(j.Interval), nil
	case j.Crontab != "":
		// crontab с секундами: "0 0 3 * * *"
		return gocron.CronJob(j.Crontab, true), nil
	default:
		return nil, fmt.Errorf("job %q: %w", j.Name, ErrNoSchedule)
	}
}

func (s *Scheduler) taskWithRecover(job Job) func(ctx context.Context) {
	return func(ctx context.Context) {
		ctx = utils.NewCtxWithRqID(ctx)
		rqID := utils.GetRequestIDFromCtx(ctx)

		defer func() {
			if r := recover(); r != nil {
				slog.Error(
					"Panic recovered in scheduler job",
					slog.String("rqID", rqID),
					slog.String("jobName", job.Name),
					slog.Any("panic", r),
					slog.String("stacktrace", string(debug.Stack())),
				)
			}
		}()

		if job.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, job.Timeout)
			defer cancel()
		}

		start := time.Now()
		slog.Info("job start", slog.String("rqID", rqID), slog.String("jobName", job.Name))

		err := job.Task(ctx)
		if err != nil {
			slog.Error("job failed", slog.String("rqID", rqID), slog.String("jobName", job.Name), slog.Any("error", err))
		} else {
			slog.Info("job completed", slog.String("rqID", rqID), slog.String("jobName", job.Name), slog.Duration("duration", time.Since(start)))
		}
	}
}
