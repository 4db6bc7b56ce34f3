package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rhuss/probforge/pkg/api"
	"github.com/rhuss/probforge/pkg/storage"
)

func init() {
	// Point testcontainers at podman when it is the local runtime.
	if os.Getenv("DOCKER_HOST") == "" {
		out, err := exec.Command("podman", "machine", "inspect", "--format", "{{.ConnectionInfo.PodmanSocket.Path}}").Output()
		if err == nil {
			if sock := strings.TrimSpace(string(out)); sock != "" {
				os.Setenv("DOCKER_HOST", "unix://"+sock)
				// Ryuk needs privileged mode with podman.
				if os.Getenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED") == "" {
					os.Setenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED", "true")
				}
			}
		}
	}
}

// setupTestDB starts a PostgreSQL container and returns a connected Store.
// Tests are skipped if no container runtime is available.
func setupTestDB(t *testing.T) *Store {
	t.Helper()

	if os.Getenv("SKIP_INTEGRATION") == "true" {
		t.Skip("SKIP_INTEGRATION=true, skipping PostgreSQL integration tests")
	}
	_, dockerErr := exec.LookPath("docker")
	_, podmanErr := exec.LookPath("podman")
	if dockerErr != nil && podmanErr != nil && os.Getenv("DOCKER_HOST") == "" {
		t.Skip("no container runtime found, skipping integration tests")
	}

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("probforge_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skipf("skipping: could not start PostgreSQL container: %v", err)
	}

	t.Cleanup(func() {
		container.Terminate(context.Background())
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	store, err := New(ctx, Config{
		DSN:            connStr,
		MaxConns:       5,
		MinConns:       1,
		MigrateOnStart: true,
	})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func makeTestJob(id string) *api.Job {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &api.Job{
		ID:              id,
		Prompt:          "two numbers that add up to a target",
		Difficulty:      api.DifficultyEasy,
		Language:        "python",
		TargetLanguages: []string{"es"},
		Status:          api.JobStatusInProgress,
		Stage:           api.StageIntent,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func uniqueID(prefix string) string {
	return fmt.Sprintf("job_%s_%d", prefix, time.Now().UnixNano())
}

func TestPostgres_CreateAndGet(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	job := makeTestJob(uniqueID("get"))
	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != job.ID || got.Prompt != job.Prompt {
		t.Errorf("got %+v", got)
	}
	if got.Status != api.JobStatusInProgress || got.Difficulty != api.DifficultyEasy {
		t.Errorf("Status = %q, Difficulty = %q", got.Status, got.Difficulty)
	}
	if len(got.TargetLanguages) != 1 || got.TargetLanguages[0] != "es" {
		t.Errorf("TargetLanguages = %v", got.TargetLanguages)
	}
	if !got.CreatedAt.Equal(job.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, job.CreatedAt)
	}
	if got.Intent != nil || got.Constraints != nil {
		t.Error("absent artifacts should stay nil")
	}
}

func TestPostgres_GetNotFound(t *testing.T) {
	store := setupTestDB(t)

	_, err := store.Get(context.Background(), "job_nonexistent")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgres_DuplicateCreate(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	job := makeTestJob(uniqueID("dup"))
	store.Create(ctx, job)

	if err := store.Create(ctx, job); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestPostgres_UpdateMergesPatches(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	job := makeTestJob(uniqueID("upd"))
	store.Create(ctx, job)

	eps := 1e-6
	patches := []api.JobPatch{
		{
			Stage:    api.Ptr(api.StageTestDesign),
			Attempts: map[api.Stage]int{api.StageIntent: 2},
			Intent:   &api.Intent{Summary: "sum", FunctionName: "two_sum"},
		},
		{
			Attempts: map[api.Stage]int{api.StageTestDesign: 1},
			TestCases: &[]api.FinalizedTestCase{
				{Input: map[string]any{"n": 1.0}, ExpectedOutput: "Infinity", Rationale: "edge: unreachable"},
			},
			TestCasesVerified: api.Ptr(true),
			Constraints:       &api.Constraints{TimeLimitSeconds: 2, MemoryLimitMB: 256, JudgeType: api.JudgeTolerance, Epsilon: &eps},
			Title:             api.Ptr("Two Sum"),
		},
		{
			Status: api.Ptr(api.JobStatusCompleted),
			Stage:  api.Ptr(api.StageFinalize),
		},
	}
	for i, p := range patches {
		if err := store.Update(ctx, job.ID, p); err != nil {
			t.Fatalf("Update %d failed: %v", i, err)
		}
	}

	got, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != api.JobStatusCompleted || got.Stage != api.StageFinalize {
		t.Errorf("Status = %q, Stage = %q", got.Status, got.Stage)
	}
	if got.Attempts[api.StageIntent] != 2 || got.Attempts[api.StageTestDesign] != 1 {
		t.Errorf("Attempts = %v, want merged counters", got.Attempts)
	}
	if got.Intent == nil || got.Intent.FunctionName != "two_sum" {
		t.Errorf("Intent = %+v", got.Intent)
	}
	if len(got.TestCases) != 1 || got.TestCases[0].ExpectedOutput != "Infinity" || !got.TestCasesVerified {
		t.Errorf("TestCases = %+v, verified = %v", got.TestCases, got.TestCasesVerified)
	}
	if got.Constraints == nil || got.Constraints.Epsilon == nil || *got.Constraints.Epsilon != eps {
		t.Errorf("Constraints = %+v", got.Constraints)
	}
	if got.Title != "Two Sum" || got.Prompt != job.Prompt {
		t.Errorf("Title = %q, Prompt = %q", got.Title, got.Prompt)
	}
	if !got.UpdatedAt.After(job.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want after %v", got.UpdatedAt, job.UpdatedAt)
	}

	err = store.Update(ctx, job.ID, api.JobPatch{Status: api.Ptr(api.JobStatusFailed)})
	if !errors.Is(err, storage.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestPostgres_UpdateNotFound(t *testing.T) {
	store := setupTestDB(t)

	err := store.Update(context.Background(), "job_missing", api.JobPatch{Title: api.Ptr("x")})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgres_OwnerIsolation(t *testing.T) {
	store := setupTestDB(t)

	job := makeTestJob(uniqueID("owner"))
	job.Owner = "alice"
	store.Create(context.Background(), job)

	if _, err := store.Get(storage.SetOwner(context.Background(), "alice"), job.ID); err != nil {
		t.Fatalf("owner should retrieve own job: %v", err)
	}
	if _, err := store.Get(storage.SetOwner(context.Background(), "bob"), job.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Error("another owner should not see alice's job")
	}
}

func TestPostgres_List(t *testing.T) {
	store := setupTestDB(t)
	ctx := storage.SetOwner(context.Background(), "lister")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := range 3 {
		job := makeTestJob(fmt.Sprintf("job_list_%d", i))
		job.Owner = "lister"
		job.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.Create(ctx, job); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	page, err := store.List(ctx, storage.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(page.Data) != 2 || page.FirstID != "job_list_2" || !page.HasMore {
		t.Errorf("first page = %+v", page)
	}

	next, err := store.List(ctx, storage.ListOptions{Limit: 2, After: page.LastID})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(next.Data) != 1 || next.Data[0].ID != "job_list_0" || next.HasMore {
		t.Errorf("second page = %+v", next)
	}
}

func TestPostgres_HealthCheck(t *testing.T) {
	store := setupTestDB(t)
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}

func TestPostgres_MigrationsIdempotent(t *testing.T) {
	store := setupTestDB(t)
	if err := store.migrate(context.Background()); err != nil {
		t.Errorf("second migrate failed: %v", err)
	}
}
