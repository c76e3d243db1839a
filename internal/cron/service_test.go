package cron

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAddJob_PersistsToStore(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "jobs.json")
	s := NewService(storePath)

	job, err := s.AddJob("reminder", "0 0 9 * * *", "stand-up time")
	if err != nil {
		t.Fatalf("AddJob error: %v", err)
	}
	if job.ID == "" {
		t.Error("job should get an ID")
	}
	if !job.Enabled {
		t.Error("new jobs should be enabled")
	}

	if _, err := os.Stat(storePath); err != nil {
		t.Fatalf("store file not written: %v", err)
	}

	// New service instance loads the same jobs.
	s2 := NewService(storePath)
	if err := s2.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s2.Stop()

	jobs := s2.ListJobs()
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	if jobs[0].Name != "reminder" || jobs[0].Message != "stand-up time" {
		t.Errorf("loaded job = %+v", jobs[0])
	}
}

func TestEnsureJob_Dedupes(t *testing.T) {
	s := NewService(filepath.Join(t.TempDir(), "jobs.json"))

	if err := s.EnsureJob("prune", "0 0 3 * * *", "__internal:audit:prune"); err != nil {
		t.Fatalf("EnsureJob error: %v", err)
	}
	if err := s.EnsureJob("prune", "0 0 3 * * *", "__internal:audit:prune"); err != nil {
		t.Fatalf("second EnsureJob error: %v", err)
	}
	// Same message under a different name is still a duplicate.
	if err := s.EnsureJob("prune-2", "0 0 4 * * *", "__internal:audit:prune"); err != nil {
		t.Fatalf("third EnsureJob error: %v", err)
	}

	if got := len(s.ListJobs()); got != 1 {
		t.Errorf("jobs = %d, want 1", got)
	}
}

func TestRemoveJob(t *testing.T) {
	s := NewService(filepath.Join(t.TempDir(), "jobs.json"))

	job, _ := s.AddJob("a", "0 0 1 * * *", "msg-a")
	s.AddJob("b", "0 0 2 * * *", "msg-b")

	if !s.RemoveJob(job.ID) {
		t.Error("RemoveJob should report success")
	}
	if s.RemoveJob("missing") {
		t.Error("RemoveJob should report failure for unknown ID")
	}

	jobs := s.ListJobs()
	if len(jobs) != 1 || jobs[0].Name != "b" {
		t.Errorf("remaining jobs = %+v", jobs)
	}
}

func TestService_ExecutesJob(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "jobs.json")
	s := NewService(storePath)

	fired := make(chan Job, 1)
	s.OnJob = func(job Job) (string, error) {
		select {
		case fired <- job:
		default:
		}
		return "done", nil
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s.Stop()

	// Every-second schedule so the test fires quickly.
	if _, err := s.AddJob("tick", "* * * * * *", "tick-msg"); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}

	select {
	case job := <-fired:
		if job.Message != "tick-msg" {
			t.Errorf("fired job message = %q", job.Message)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire")
	}

	// Run state is recorded and persisted.
	deadline := time.Now().Add(2 * time.Second)
	for {
		jobs := s.ListJobs()
		if len(jobs) == 1 && jobs[0].State.LastStatus == "ok" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run state not recorded: %+v", jobs)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestService_RecordsJobError(t *testing.T) {
	s := NewService(filepath.Join(t.TempDir(), "jobs.json"))

	s.jobs = []Job{{ID: "j1", Name: "broken", Message: "m"}}
	s.OnJob = func(Job) (string, error) {
		return "", os.ErrPermission
	}

	s.executeJob(s.jobs[0])

	jobs := s.ListJobs()
	if jobs[0].State.LastStatus != "error" {
		t.Errorf("status = %q, want error", jobs[0].State.LastStatus)
	}
	if jobs[0].State.LastError == "" {
		t.Error("error text should be recorded")
	}
}

func TestService_InvalidExpr(t *testing.T) {
	s := NewService(filepath.Join(t.TempDir(), "jobs.json"))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s.Stop()

	// Registration failure is logged, the job is still stored.
	if _, err := s.AddJob("bad", "not a cron expr", "m"); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}
	if got := len(s.ListJobs()); got != 1 {
		t.Errorf("jobs = %d, want 1", got)
	}
}

func TestService_StopOnContextCancel(t *testing.T) {
	s := NewService(filepath.Join(t.TempDir(), "jobs.json"))

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	cancel()
	// Stop is idempotent enough to call again.
	time.Sleep(50 * time.Millisecond)
	s.Stop()
}
