package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cardtable/lobby-service/internal/service"

	"github.com/hibiken/asynq"
)

type SweepHandler struct {
	rec *service.Reconciler
}

func NewSweepHandler(rec *service.Reconciler) *SweepHandler {
	return &SweepHandler{rec: rec}
}

func (h *SweepHandler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	report, err := h.rec.Sweep(ctx)
	if err != nil {
		if errors.Is(err, service.ErrSweepInProgress) {
			// предыдущий свип ещё идёт — этот пропускаем
			slog.Info("sweep skipped: previous still running")
			return nil
		}
		return err
	}

	removed := 0
	failed := 0
	for _, p := range report.Policies {
		removed += p.Removed
		if p.Err != "" {
			failed++
		}
	}
	slog.Info("sweep finished",
		"duration", report.Duration, "removed", removed, "failed_policies", failed)
	return nil
}
