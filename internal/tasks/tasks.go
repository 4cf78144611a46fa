package tasks

import (
	"time"

	"github.com/hibiken/asynq"
)

const TypeReconcileSweep = "lobby:reconcile_sweep"

func NewSweepTask() *asynq.Task {
	return asynq.NewTask(TypeReconcileSweep, nil)
}

// SweepOpts: uniqueness на период — свип, который ещё не отработал,
// не дублируется в очереди (пропускаем, а не копим).
func SweepOpts(period time.Duration) []asynq.Option {
	return []asynq.Option{
		asynq.Queue("default"),
		asynq.Unique(period),
		asynq.MaxRetry(0), // свип повторится сам по расписанию
	}
}
