package show

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"gopkg.in/yaml.v3"
)

// Repository defines the interface for scene persistence.
// This abstraction allows different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	List(ctx context.Context) ([]SceneData, error)
	Save(ctx context.Context, scene SceneData) error
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite. Each scene is one
// row holding its YAML document, with priority, active state and current
// cue mirrored into columns for ordering and inspection.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// List returns every stored scene, lowest priority first.
func (r *SQLiteRepository) List(ctx context.Context) ([]SceneData, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, document, active, current_cue FROM scenes ORDER BY priority, name`)
	if err != nil {
		return nil, fmt.Errorf("querying scenes: %w", err)
	}
	defer rows.Close()

	var out []SceneData
	for rows.Next() {
		var (
			id, document string
			active       int
			currentCue   sql.NullString
		)
		if err := rows.Scan(&id, &document, &active, &currentCue); err != nil {
			return nil, fmt.Errorf("scanning scene: %w", err)
		}
		var d SceneData
		if err := yaml.Unmarshal([]byte(document), &d); err != nil {
			return nil, fmt.Errorf("decoding scene %s: %w", id, err)
		}
		d.ID = id
		d.Active = active != 0
		d.CurrentCue = currentCue.String
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scenes: %w", err)
	}
	return out, nil
}

// Save inserts or replaces a scene.
func (r *SQLiteRepository) Save(ctx context.Context, scene SceneData) error {
	if scene.ID == "" {
		return fmt.Errorf("%w: scene %q has no id", ErrInvalidScene, scene.Name)
	}
	doc, err := yaml.Marshal(scene)
	if err != nil {
		return fmt.Errorf("encoding scene: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO scenes (id, name, priority, document, active, current_cue, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			priority = excluded.priority,
			document = excluded.document,
			active = excluded.active,
			current_cue = excluded.current_cue,
			updated_at = excluded.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		scene.ID,
		scene.Name,
		scene.Priority,
		string(doc),
		boolToInt(scene.Active),
		nullableString(scene.CurrentCue),
		now,
		now,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: scene %q", ErrDuplicateName, scene.Name)
		}
		return fmt.Errorf("saving scene: %w", err)
	}
	return nil
}

// Delete removes a scene.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM scenes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting scene: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrSceneNotFound
	}
	return nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// ─── Board persistence ───

// SaveAll writes every scene to repo.
func (b *Board) SaveAll(ctx context.Context, repo Repository) error {
	var errs []error
	for _, d := range b.Export() {
		if err := repo.Save(ctx, d); err != nil {
			errs = append(errs, fmt.Errorf("scene %q: %w", d.Name, err))
		}
	}
	return errors.Join(errs...)
}

// LoadAll imports every scene in repo and returns how many were installed.
// A failed listing is wrapped in ErrStorage. Invalid scenes are skipped and
// reported together; valid ones are installed regardless.
func (b *Board) LoadAll(ctx context.Context, repo Repository) (int, error) {
	scenes, err := repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return b.ImportAll(scenes)
}

// ImportAll imports each scene in order, skipping the ones that fail.
func (b *Board) ImportAll(scenes []SceneData) (int, error) {
	var (
		loaded int
		errs   []error
	)
	for _, d := range scenes {
		if _, err := b.Import(d); err != nil {
			errs = append(errs, fmt.Errorf("scene %q: %w", d.Name, err))
			continue
		}
		loaded++
	}
	return loaded, errors.Join(errs...)
}
