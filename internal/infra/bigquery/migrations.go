package bigquery

import (
	"context"
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/period-counters/internal/logger"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// migrationPattern matches 0001_name.sql.
var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// Migration is one versioned schema change.
type Migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

// LoadMigrations reads the embedded migrations in version order with the
// project and dataset placeholders substituted.
func LoadMigrations(projectID, datasetID string) ([]Migration, error) {
	return loadMigrations(migrationFiles, "migrations", projectID, datasetID)
}

func loadMigrations(fsys fs.FS, dir, projectID, datasetID string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("loadMigrations: reading %s: %w", dir, err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := migrationPattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		version, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		content, err := fs.ReadFile(fsys, dir+"/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("loadMigrations: reading %s: %w", entry.Name(), err)
		}

		// Checksum the template so the same migration matches across datasets.
		sql := strings.ReplaceAll(string(content), "{{PROJECT_ID}}", projectID)
		sql = strings.ReplaceAll(sql, "{{DATASET_ID}}", datasetID)

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     m[2],
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// MigrateWithClient applies every migration not yet recorded in schema_migrations
// and returns how many ran.
func MigrateWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID, appliedBy string) (int, error) {
	log := logger.FromContext(ctx)
	table := fmt.Sprintf("`%s.%s.schema_migrations`", projectID, datasetID)

	if err := runQuery(ctx, client.Query(`
		CREATE TABLE IF NOT EXISTS `+table+` (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`)); err != nil {
		return 0, fmt.Errorf("MigrateWithClient: ensuring schema_migrations: %w", err)
	}

	migrations, err := LoadMigrations(projectID, datasetID)
	if err != nil {
		return 0, err
	}

	applied, err := appliedVersions(ctx, client, table)
	if err != nil {
		return 0, fmt.Errorf("MigrateWithClient: %w", err)
	}

	count := 0
	for _, m := range migrations {
		if applied[m.Version] {
			log.Debug().Int("version", m.Version).Str("name", m.Name).Msg("Migration already applied")
			continue
		}

		if err := runQuery(ctx, client.Query(m.SQL)); err != nil {
			return count, fmt.Errorf("MigrateWithClient: applying %04d_%s: %w", m.Version, m.Name, err)
		}

		record := client.Query(`
			INSERT INTO ` + table + `
			(version, name, applied_at, checksum, applied_by)
			VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
		`)
		record.Parameters = []bigquery.QueryParameter{
			{Name: "version", Value: m.Version},
			{Name: "name", Value: m.Name},
			{Name: "checksum", Value: m.Checksum},
			{Name: "applied_by", Value: appliedBy},
		}
		if err := runQuery(ctx, record); err != nil {
			return count, fmt.Errorf("MigrateWithClient: recording %04d_%s: %w", m.Version, m.Name, err)
		}

		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("Applied migration")
		count++
	}
	return count, nil
}

func appliedVersions(ctx context.Context, client *bigquery.Client, table string) (map[int]bool, error) {
	it, err := client.Query(`SELECT version FROM ` + table).Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	versions := map[int]bool{}
	for {
		var row struct{ Version int64 }
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating applied migrations: %w", err)
		}
		versions[int(row.Version)] = true
	}
	return versions, nil
}

func runQuery(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	return status.Err()
}
