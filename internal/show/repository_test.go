package show

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nerrad567/gray-logic-show/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-show/migrations" // registers the embedded schema
)

func openTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "show.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestSQLiteRepository_SaveListDelete(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	d := SceneData{ID: "scene-1", Name: "wash", Priority: 20, Alpha: 1, BPM: 90, Backtrack: true,
		Cues: []CueData{cue("default", 0, vals("U", "0", 10))}}
	if err := repo.Save(ctx, d); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	d.Priority = 25
	if err := repo.Save(ctx, d); err != nil {
		t.Fatalf("Save() update error = %v", err)
	}

	scenes, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(scenes) != 1 {
		t.Fatalf("List() = %d scenes, want 1", len(scenes))
	}
	if got := scenes[0]; got.Priority != 25 || got.BPM != 90 || got.Cues[0].Values["U"]["0"] != 10 {
		t.Errorf("List()[0] = %+v", got)
	}

	if err := repo.Delete(ctx, "scene-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(ctx, "scene-1"); !errors.Is(err, ErrSceneNotFound) {
		t.Errorf("Delete() twice error = %v, want ErrSceneNotFound", err)
	}
}

func TestSQLiteRepository_DuplicateName(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	a := SceneData{ID: "a", Name: "same", BPM: 60, Cues: []CueData{cue("default", 0, nil)}}
	b := SceneData{ID: "b", Name: "same", BPM: 60, Cues: []CueData{cue("default", 0, nil)}}
	if err := repo.Save(ctx, a); err != nil {
		t.Fatalf("Save(a) error = %v", err)
	}
	if err := repo.Save(ctx, b); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("Save(b) error = %v, want ErrDuplicateName", err)
	}
	if err := repo.Save(ctx, SceneData{Name: "no-id"}); !errors.Is(err, ErrInvalidScene) {
		t.Errorf("Save(no id) error = %v, want ErrInvalidScene", err)
	}
}

func TestBoard_SaveAllLoadAll(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	rig := newTestRig(t)
	s := rig.importScene(t, SceneData{Name: "one", Cues: []CueData{cue("default", 0, nil), cue("c1", 1, nil)}})
	rig.importScene(t, SceneData{Name: "two", Cues: []CueData{cue("default", 0, nil)}})
	mustGo(t, s)
	mustGoto(t, s, "c1")

	if err := rig.board.SaveAll(ctx, repo); err != nil {
		t.Fatalf("SaveAll() error = %v", err)
	}

	restored := newTestRig(t)
	loaded, err := restored.board.LoadAll(ctx, repo)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if loaded != 2 {
		t.Errorf("LoadAll() loaded = %d, want 2", loaded)
	}
	if got := restored.board.ActiveScenes(); len(got) != 1 || got[0] != "one" {
		t.Fatalf("ActiveScenes() = %v, want [one]", got)
	}
	one, err := restored.board.Scene("one")
	if err != nil {
		t.Fatalf("Scene(one) error = %v", err)
	}
	if got := one.CurrentCue(); got != "c1" {
		t.Errorf("restored cue = %q, want c1", got)
	}
}

type listFailingRepo struct {
	Repository
}

func (listFailingRepo) List(context.Context) ([]SceneData, error) {
	return nil, errors.New("database is locked")
}

func TestBoard_LoadAllReportsSkippedScenes(t *testing.T) {
	rig := newTestRig(t)
	if _, err := rig.board.LoadAll(context.Background(), listFailingRepo{}); !errors.Is(err, ErrStorage) {
		t.Errorf("LoadAll() with failing list error = %v, want ErrStorage", err)
	}

	loaded, err := rig.board.ImportAll([]SceneData{
		{Name: "good", BPM: 60, Cues: []CueData{cue("default", 0, nil)}},
		{Name: "broken", BPM: 60},
	})
	if loaded != 1 {
		t.Errorf("ImportAll() loaded = %d, want 1", loaded)
	}
	if !errors.Is(err, ErrInvalidScene) || errors.Is(err, ErrStorage) {
		t.Errorf("ImportAll() error = %v, want ErrInvalidScene only", err)
	}
	if _, err := rig.board.Scene("good"); err != nil {
		t.Errorf("Scene(good) error = %v", err)
	}
}
