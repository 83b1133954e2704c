package dag

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/obsrvr/tradeledger/internal/obslog"
)

func TestRunnerRespectsDependencyOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) StageFunc {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	log := obslog.NewStage("dag", uuid.New())
	r := NewRunner(log, 4,
		Stage{Name: "s4", Run: record("s4"), DependsOn: []string{"s3"}},
		Stage{Name: "s1", Run: record("s1")},
		Stage{Name: "s2", Run: record("s2"), DependsOn: []string{"s1"}},
		Stage{Name: "s3", Run: record("s3"), DependsOn: []string{"s2"}},
	)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pos := map[string]int{}
	for i, name := range order {
		pos[name] = i
	}
	if pos["s1"] > pos["s2"] || pos["s2"] > pos["s3"] || pos["s3"] > pos["s4"] {
		t.Fatalf("expected linear dependency order, got %v", order)
	}
}

func TestRunnerFansOutIndependentStages(t *testing.T) {
	log := obslog.NewStage("dag", uuid.New())
	r := NewRunner(log, 4,
		Stage{Name: "s4"},
		Stage{Name: "s5", Run: func(ctx context.Context) error { return nil }, DependsOn: []string{"s4"}},
		Stage{Name: "s6", Run: func(ctx context.Context) error { return nil }, DependsOn: []string{"s4"}},
		Stage{Name: "s7", Run: func(ctx context.Context) error { return nil }, DependsOn: []string{"s4"}},
	)
	r.stages[0].Run = func(ctx context.Context) error { return nil }

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunnerPropagatesStageFailure(t *testing.T) {
	boom := errors.New("boom")
	log := obslog.NewStage("dag", uuid.New())
	r := NewRunner(log, 1,
		Stage{Name: "s1", Run: func(ctx context.Context) error { return boom }},
	)
	if err := r.Run(context.Background()); err == nil {
		t.Fatal("expected error to propagate")
	}
}

// TestRunnerSkipsDependentsOfFailedStage guards against a stage whose
// dependency failed still running: s2 and its transitive dependent s3 must
// never execute once s1 fails, and the runner must report an error.
func TestRunnerSkipsDependentsOfFailedStage(t *testing.T) {
	boom := errors.New("boom")
	var mu sync.Mutex
	ran := map[string]bool{}
	record := func(name string, err error) StageFunc {
		return func(ctx context.Context) error {
			mu.Lock()
			ran[name] = true
			mu.Unlock()
			return err
		}
	}

	log := obslog.NewStage("dag", uuid.New())
	r := NewRunner(log, 4,
		Stage{Name: "s1", Run: record("s1", boom)},
		Stage{Name: "s2", Run: record("s2", nil), DependsOn: []string{"s1"}},
		Stage{Name: "s3", Run: record("s3", nil), DependsOn: []string{"s2"}},
	)

	err := r.Run(context.Background())
	if err == nil {
		t.Fatal("expected error to propagate")
	}
	if ran["s2"] || ran["s3"] {
		t.Fatalf("expected dependents of a failed stage to be skipped, ran=%v", ran)
	}
}

func TestRunnerDetectsUnsatisfiableDependency(t *testing.T) {
	log := obslog.NewStage("dag", uuid.New())
	r := NewRunner(log, 1,
		Stage{Name: "s2", Run: func(ctx context.Context) error { return nil }, DependsOn: []string{"missing"}},
	)
	if err := r.Run(context.Background()); err == nil {
		t.Fatal("expected error for unsatisfiable dependency")
	}
}
