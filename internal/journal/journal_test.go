package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/vrpn-core/internal/infrastructure/database"
	"github.com/nerrad567/vrpn-core/migrations"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.Open(database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if _, err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func intPtr(n int) *int { return &n }

func TestCreateAndGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	run := &Run{ServerName: "tracker", PID: 4321, Command: "vrpn_server -f /tmp/vrpn-1.cfg"}
	if err := repo.Create(ctx, run); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(run.ID) != len("run-")+8 || run.ID[:4] != "run-" {
		t.Errorf("ID = %q, want run-xxxxxxxx", run.ID)
	}
	if run.Outcome != OutcomeRunning {
		t.Errorf("Outcome = %q, want %q", run.Outcome, OutcomeRunning)
	}

	got, err := repo.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ServerName != "tracker" || got.PID != 4321 || got.Command != run.Command {
		t.Errorf("Get() = %+v, want %+v", got, run)
	}
	if got.StoppedAt != nil || got.ExitCode != nil {
		t.Errorf("unfinished run has StoppedAt = %v, ExitCode = %v", got.StoppedAt, got.ExitCode)
	}
	if !got.StartedAt.Equal(run.StartedAt.Truncate(time.Microsecond)) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, run.StartedAt)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.Get(context.Background(), "run-missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Get() error = %v, want ErrRunNotFound", err)
	}
}

func TestFinish(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	started := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	run := &Run{ServerName: "tracker", PID: 10, StartedAt: started}
	if err := repo.Create(ctx, run); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	stopped := started.Add(90 * time.Second)
	err := repo.Finish(ctx, run.ID, Completion{
		Outcome:     OutcomeCrashed,
		StoppedAt:   stopped,
		ExitCode:    intPtr(-9),
		Error:       "server exited unexpectedly",
		StdoutLines: 40,
		StderrLines: 2,
	})
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	got, err := repo.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Outcome != OutcomeCrashed {
		t.Errorf("Outcome = %q, want %q", got.Outcome, OutcomeCrashed)
	}
	if got.ExitCode == nil || *got.ExitCode != -9 {
		t.Errorf("ExitCode = %v, want -9", got.ExitCode)
	}
	if got.Error != "server exited unexpectedly" {
		t.Errorf("Error = %q", got.Error)
	}
	if got.StdoutLines != 40 || got.StderrLines != 2 {
		t.Errorf("lines = %d/%d, want 40/2", got.StdoutLines, got.StderrLines)
	}
	if d := got.Duration(time.Now()); d != 90*time.Second {
		t.Errorf("Duration() = %v, want %v", d, 90*time.Second)
	}
}

func TestFinish_NotFound(t *testing.T) {
	repo := newTestRepo(t)

	err := repo.Finish(context.Background(), "run-missing", Completion{Outcome: OutcomeStopped})
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Finish() error = %v, want ErrRunNotFound", err)
	}
}

func TestList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

	seed := []struct {
		server  string
		outcome Outcome
	}{
		{"tracker", OutcomeStopped},
		{"tracker", OutcomeCrashed},
		{"buttons", OutcomeFailed},
		{"tracker", OutcomeRunning},
	}
	var ids []string
	for i, s := range seed {
		run := &Run{ServerName: s.server, Outcome: s.outcome, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := repo.Create(ctx, run); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		ids = append(ids, run.ID)
	}

	tests := []struct {
		name      string
		filter    Filter
		wantIDs   []string
		wantTotal int
	}{
		{"all newest first", Filter{}, []string{ids[3], ids[2], ids[1], ids[0]}, 4},
		{"by server", Filter{ServerName: "tracker"}, []string{ids[3], ids[1], ids[0]}, 3},
		{"by outcome", Filter{Outcome: OutcomeFailed}, []string{ids[2]}, 1},
		{"paged", Filter{Limit: 2, Offset: 1}, []string{ids[2], ids[1]}, 4},
		{"no match", Filter{ServerName: "dials"}, []string{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.wantTotal {
				t.Errorf("Total = %d, want %d", res.Total, tt.wantTotal)
			}
			if len(res.Runs) != len(tt.wantIDs) {
				t.Fatalf("len(Runs) = %d, want %d", len(res.Runs), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if res.Runs[i].ID != id {
					t.Errorf("Runs[%d].ID = %q, want %q", i, res.Runs[i].ID, id)
				}
			}
		})
	}
}

func TestList_ClampsLimit(t *testing.T) {
	repo := newTestRepo(t)

	res, err := repo.List(context.Background(), Filter{Limit: 10000, Offset: -3})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Limit != maxListLimit || res.Offset != 0 {
		t.Errorf("Limit, Offset = %d, %d, want %d, 0", res.Limit, res.Offset, maxListLimit)
	}
	if res.Runs == nil {
		t.Error("Runs = nil, want empty slice")
	}
}
