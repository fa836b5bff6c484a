package cron

import (
	"context"
	"fmt"

	"github.com/imc400/tuka-backend/internal/credentials"
	"github.com/imc400/tuka-backend/pkg/logger"
)

type credentialRefresher interface {
	RefreshExpiring(ctx context.Context) (credentials.RefreshSummary, error)
}

type CredentialRefreshJobParams struct {
	Logger  *logger.Logger
	Manager credentialRefresher
}

// NewCredentialRefreshJob refreshes payment grants before they expire so
// checkout never waits on a token exchange.
func NewCredentialRefreshJob(params CredentialRefreshJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Manager == nil {
		return nil, fmt.Errorf("credential manager required")
	}
	return &credentialRefreshJob{logg: params.Logger, manager: params.Manager}, nil
}

type credentialRefreshJob struct {
	logg    *logger.Logger
	manager credentialRefresher
}

func (j *credentialRefreshJob) Name() string { return "credential_refresh" }

// Run reports failure when any storefront failed; the others are already
// refreshed by then.
func (j *credentialRefreshJob) Run(ctx context.Context) error {
	summary, err := j.manager.RefreshExpiring(ctx)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"checked":   summary.Checked,
		"refreshed": summary.Refreshed,
		"failed":    summary.Failed,
	}), "credential refresh sweep complete")
	if err != nil {
		return fmt.Errorf("credential refresh: %w", err)
	}
	return nil
}
