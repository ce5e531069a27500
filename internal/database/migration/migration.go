package migration

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bloodreport/internal/config"
	"bloodreport/internal/logging"
)

type migrationStep struct {
	Name string
	SQL  string
}

// The schema is portable between SQLite and PostgreSQL.
var steps = []migrationStep{
	{
		Name: "create_table_files",
		SQL: `CREATE TABLE IF NOT EXISTS files (
  id          TEXT      PRIMARY KEY,
  filename    TEXT      NOT NULL,
  stored_path TEXT      NOT NULL,
  size        BIGINT    NOT NULL DEFAULT 0 CHECK (size >= 0),
  uploaded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`,
	},
	{
		Name: "create_table_analysis",
		SQL: `CREATE TABLE IF NOT EXISTS analysis (
  id          TEXT      PRIMARY KEY,
  file_id     TEXT      NOT NULL REFERENCES files (id),
  query       TEXT      NOT NULL DEFAULT '',
  output      TEXT      NOT NULL DEFAULT '',
  status      TEXT      NOT NULL,
  analyzed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`,
	},
	{
		Name: "create_index_analysis_file_id",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_analysis_file_id ON analysis (file_id);`,
	},
	{
		Name: "create_index_analysis_analyzed_at",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_analysis_analyzed_at ON analysis (analyzed_at);`,
	},
}

// sentinelQuery reports whether the analysis table exists for the given driver.
func sentinelQuery(driver string) string {
	if driver == config.DriverPostgres {
		return "SELECT to_regclass('public.analysis') IS NOT NULL"
	}
	return "SELECT COUNT(*) > 0 FROM sqlite_master WHERE type = 'table' AND name = 'analysis'"
}

// EnsureMigrated checks if the 'analysis' table exists and runs migrations if it doesn't.
func EnsureMigrated(ctx context.Context, db *sql.DB, driver string, log *logging.Logger, target string) error {
	start := time.Now()

	log.Log(map[string]any{
		"component": "database",
		"event":     "db_migration_check",
		"status":    "starting",
		"db_target": target,
	})

	var exists bool
	err := db.QueryRowContext(ctx, sentinelQuery(driver)).Scan(&exists)
	if err != nil {
		log.Log(map[string]any{
			"component":     "database",
			"event":         "db_migration_failed",
			"status":        "error",
			"error_message": fmt.Sprintf("failed to check sentinel table: %v", err),
			"db_target":     target,
			"duration_ms":   time.Since(start).Milliseconds(),
		})
		return fmt.Errorf("failed to check sentinel table: %w", err)
	}

	if exists {
		log.Log(map[string]any{
			"component":   "database",
			"event":       "db_migration_skip",
			"status":      "success",
			"msg":         "schema already exists, skipping migration",
			"db_target":   target,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return nil
	}

	log.Log(map[string]any{
		"component": "database",
		"event":     "db_migration_start",
		"status":    "in_progress",
		"db_target": target,
	})

	for _, step := range steps {
		stepStart := time.Now()
		if _, err := db.ExecContext(ctx, step.SQL); err != nil {
			log.Log(map[string]any{
				"component":        "database",
				"event":            "db_migration_failed",
				"status":           "error",
				"migration_step":   step.Name,
				"error_message":    err.Error(),
				"db_target":        target,
				"duration_ms":      time.Since(start).Milliseconds(),
				"step_duration_ms": time.Since(stepStart).Milliseconds(),
			})
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}

		log.Log(map[string]any{
			"component":        "database",
			"event":            "db_migration_step",
			"status":           "success",
			"migration_step":   step.Name,
			"db_target":        target,
			"step_duration_ms": time.Since(stepStart).Milliseconds(),
		})
	}

	log.Log(map[string]any{
		"component":   "database",
		"event":       "db_migration_success",
		"status":      "success",
		"db_target":   target,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return nil
}
