package migrate

import (
	"context"
	"fmt"

	"github.com/imc400/tuka-backend/pkg/config"
	"github.com/imc400/tuka-backend/pkg/db"
	"github.com/imc400/tuka-backend/pkg/logger"
)

// MaybeRunDev applies the embedded migrations on boot when running in dev
// with TUKA_AUTO_MIGRATE set. Other environments run cmd/migrate.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	if err := ValidateFS(embedded, embeddedDir); err != nil {
		return fmt.Errorf("embedded migrations invalid: %w", err)
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithField(ctx, "migrations", "embedded")
	logg.Info(ctx, "migrate.autorun.start")
	if err := Run(ctx, sqlDB, DefaultDir, "up"); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}
	version, err := CurrentVersion(sqlDB)
	if err != nil {
		return err
	}
	logg.Info(logg.WithField(ctx, "version", version), "migrate.autorun.done")
	return nil
}
