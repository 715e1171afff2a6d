package engine

import (
	"context"
	"fmt"

	"github.com/khaledrokaya2/goldpin/internal/domain"
	"github.com/khaledrokaya2/goldpin/pkg/telemetry"
)

// reserveCredentials claims one backup code per worker. The pool size is
// min(taskCount, maxWorkers, available codes); a single code can serve many
// tasks sequentially inside its authenticated window, so a job never needs
// codes >= tasks, only >= 1.
//
// Reserved codes are burned in the store immediately so concurrent jobs
// cannot double-allocate them. They are never released back, whatever happens
// to the job afterwards.
func (o *Orchestrator) reserveCredentials(ctx context.Context, spec JobSpec) ([]domain.Credential, error) {
	active, err := o.creds.FetchActive(ctx, spec.AccountID)
	if err != nil {
		return nil, fmt.Errorf("fetch active backup codes: %w", err)
	}
	if len(active) == 0 {
		return nil, &domain.InsufficientCredentialsError{AccountID: spec.AccountID}
	}

	n := spec.TaskCount
	if n > o.maxWorkers {
		n = o.maxWorkers
	}
	if n > len(active) {
		n = len(active)
	}

	reserved := active[:n]
	ids := make([]int64, n)
	for i, c := range reserved {
		ids[i] = c.ID
	}
	if err := o.creds.MarkConsumed(ctx, ids); err != nil {
		return nil, fmt.Errorf("reserve backup codes: %w", err)
	}

	telemetry.CredentialsReserved.Add(float64(n))
	return reserved, nil
}
