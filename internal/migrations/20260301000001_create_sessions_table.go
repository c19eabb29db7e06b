package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/schoolist/edgeservice/internal/db/models"
)

func init() {
	Migrations.MustRegister(up_20260301000001, down_20260301000001)
}

// up_20260301000001 creates the sessions table and its lookup indexes
func up_20260301000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] creating sessions table...")

	_, err := db.NewCreateTable().
		Model((*models.Session)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	indexes := []struct {
		name   string
		column string
	}{
		{"idx_sessions_subject", "subject"},
		{"idx_sessions_expires_at", "expires_at"},
	}
	for _, idx := range indexes {
		_, err = db.NewCreateIndex().
			Model((*models.Session)(nil)).
			Index(idx.name).
			Column(idx.column).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}
	fmt.Println(" OK")

	return nil
}

// down_20260301000001 drops the sessions table
func down_20260301000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping sessions table...")

	_, err := db.NewDropTable().
		Model((*models.Session)(nil)).
		IfExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to drop sessions table: %w", err)
	}
	fmt.Println(" OK")

	return nil
}
