package services

import (
	"context"
	"fmt"
	"time"

	"chama-engine/internal/adapters/persistence/repositories"
	"chama-engine/internal/config"
	"chama-engine/internal/core/domain"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CheckReport summarises one run of the scheduled checks.
type CheckReport struct {
	PenaltiesRaised     int       `json:"penalties_raised"`
	InstallmentsOverdue int       `json:"installments_overdue"`
	LoansDefaulted      int       `json:"loans_defaulted"`
	RemindersSent       int       `json:"reminders_sent"`
	RanAt               time.Time `json:"ran_at"`
}

// CronService schedules the periodic engine checks. Every check is
// idempotent, so overlapping or manual runs are safe.
type CronService struct {
	cycles     *CycleService
	loans      *LoanService
	dispatcher *OutboxDispatcher
	store      *repositories.Store
	authz      Authorizer
	cfg        config.SchedulerConfig
	log        *zap.Logger
	cron       *cron.Cron
}

// NewCronService creates a new cron service
func NewCronService(
	cycles *CycleService,
	loans *LoanService,
	dispatcher *OutboxDispatcher,
	store *repositories.Store,
	authz Authorizer,
	cfg config.SchedulerConfig,
	log *zap.Logger,
) *CronService {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("cron")
	return &CronService{
		cycles:     cycles,
		loans:      loans,
		dispatcher: dispatcher,
		store:      store,
		authz:      authz,
		cfg:        cfg,
		log:        log,
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.PrintfLogger(zap.NewStdLog(log))),
			cron.SkipIfStillRunning(cron.PrintfLogger(zap.NewStdLog(log))),
		)),
	}
}

// Start registers the jobs and starts the scheduler
func (s *CronService) Start() error {
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return nil
	}

	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context) error
	}{
		{"late_penalty", s.cfg.LatePenaltyCron, func(ctx context.Context) error {
			n, err := s.cycles.RunLatePenaltyCheck(ctx)
			s.log.Debug("late penalty check", zap.Int("raised", n))
			return err
		}},
		{"overdue", s.cfg.OverdueCron, func(ctx context.Context) error {
			overdue, defaulted, err := s.loans.DetectOverdue(ctx)
			s.log.Debug("overdue check", zap.Int("overdue", overdue), zap.Int("defaulted", defaulted))
			return err
		}},
		{"due_reminders", s.cfg.RemindersCron, func(ctx context.Context) error {
			_, err := s.loans.SendDueReminders(ctx)
			return err
		}},
		{"outbox_sweep", s.cfg.OutboxCron, func(ctx context.Context) error {
			if s.dispatcher == nil {
				return nil
			}
			_, err := s.dispatcher.DispatchPending(ctx)
			return err
		}},
		{"token_cleanup", s.cfg.TokenCleanup, func(ctx context.Context) error {
			n, err := s.store.RefreshTokens.DeleteExpired(ctx, time.Now())
			if n > 0 {
				s.log.Info("expired sessions purged", zap.Int64("count", n))
			}
			return err
		}},
	}

	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		j := j
		if _, err := s.cron.AddFunc(j.spec, func() { s.runJob(j.name, j.run) }); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", j.name, j.spec, err)
		}
		s.log.Info("job scheduled", zap.String("job", j.name), zap.String("spec", j.spec))
	}
	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *CronService) Stop() {
	<-s.cron.Stop().Done()
}

func (s *CronService) runJob(name string, run func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := run(ctx); err != nil {
		s.log.Error("scheduled job failed", zap.String("job", name), zap.Error(err))
	}
}

// RunChecks runs the late-penalty, overdue and reminder checks now.
func (s *CronService) RunChecks(ctx context.Context, actor domain.Actor) (*CheckReport, error) {
	if s.authz != nil {
		if err := s.authz.Authorize(ctx, actor, OpChecksRun, Target{Kind: "checks"}); err != nil {
			return nil, err
		}
	}

	report := &CheckReport{RanAt: time.Now()}
	var err error
	if report.PenaltiesRaised, err = s.cycles.RunLatePenaltyCheck(ctx); err != nil {
		return nil, err
	}
	if report.InstallmentsOverdue, report.LoansDefaulted, err = s.loans.DetectOverdue(ctx); err != nil {
		return nil, err
	}
	if report.RemindersSent, err = s.loans.SendDueReminders(ctx); err != nil {
		return nil, err
	}
	s.log.Info("checks run on demand",
		zap.Uint("actor_id", actor.UserID),
		zap.Int("penalties", report.PenaltiesRaised),
		zap.Int("overdue", report.InstallmentsOverdue),
		zap.Int("defaulted", report.LoansDefaulted),
	)
	return report, nil
}
