package worker

import (
	"errors"
	"log/slog"
	"time"

	"github.com/cardtable/lobby-service/internal/tasks"

	"github.com/hibiken/asynq"
)

// Server — asynq-воркер: исполняет задачи свипа (периодические и
// поставленные оператором через internal endpoint).
type Server struct {
	srv       *asynq.Server
	scheduler *asynq.Scheduler
	handler   *SweepHandler
	period    time.Duration
}

func NewServer(redisOpt asynq.RedisClientOpt, handler *SweepHandler, sweepPeriod time.Duration) *Server {
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 2,
		Queues: map[string]int{
			"default": 1,
		},
	})

	scheduler := asynq.NewScheduler(redisOpt, nil)

	return &Server{
		srv:       srv,
		scheduler: scheduler,
		handler:   handler,
		period:    sweepPeriod,
	}
}

// Start запускает воркер и планировщик; блокирует до Shutdown.
func (s *Server) Start() error {
	spec := "@every " + s.period.String()
	if _, err := s.scheduler.Register(spec, tasks.NewSweepTask(), tasks.SweepOpts(s.period)...); err != nil {
		return err
	}

	go func() {
		if err := s.scheduler.Run(); err != nil {
			slog.Error("sweep scheduler stopped", "err", err)
		}
	}()

	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeReconcileSweep, s.handler.ProcessTask)

	if err := s.srv.Run(mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown() {
	s.scheduler.Shutdown()
	s.srv.Shutdown()
}
