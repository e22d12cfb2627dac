package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// recordingExecutor reports every executed job on a channel.
type recordingExecutor struct {
	fired chan Job
}

func newRecordingExecutor() *recordingExecutor {
	return &recordingExecutor{fired: make(chan Job, 16)}
}

func (e *recordingExecutor) Execute(_ context.Context, job Job) {
	e.fired <- job
}

func (e *recordingExecutor) expectFire(t *testing.T) Job {
	t.Helper()
	select {
	case job := <-e.fired:
		return job
	case <-time.After(2 * time.Second):
		t.Fatal("expected job to fire")
		return Job{}
	}
}

func (e *recordingExecutor) expectNoFire(t *testing.T) {
	t.Helper()
	select {
	case job := <-e.fired:
		t.Fatalf("unexpected fire of %s", job.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func sequentialIDs() func() string {
	var n atomic.Int32
	return func() string { return fmt.Sprintf("job-%d", n.Add(1)) }
}

func newTestScheduler(t *testing.T, exec Executor) (*Scheduler, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	s := New(exec, WithClock(clock), WithIDGenerator(sequentialIDs()))
	t.Cleanup(s.Stop)
	return s, clock
}

func commands() []Command {
	return []Command{
		{DeviceID: "pi-01", Action: "solid", Params: map[string]any{"color": "red"}},
		{DeviceID: "pi-02", Action: "off"},
	}
}

func TestScheduler_OnceFiresExactlyOnce(t *testing.T) {
	exec := newRecordingExecutor()
	s, clock := newTestScheduler(t, exec)

	job, err := s.ScheduleOnce(Request{
		Module:   "led",
		Actor:    "alice",
		FireAt:   clock.Now().Add(10 * time.Second),
		Commands: commands(),
	})
	if err != nil {
		t.Fatalf("ScheduleOnce() error = %v", err)
	}
	if job.ID != "job-1" || job.State != StatePending || job.Kind != KindOnce {
		t.Errorf("job = %+v", job)
	}

	waitForWaiters(t, clock, 1)
	clock.Advance(5 * time.Second)
	exec.expectNoFire(t)

	clock.Advance(5 * time.Second)
	fired := exec.expectFire(t)
	if fired.ID != job.ID || len(fired.Commands) != 2 || fired.Commands[0].Action != "solid" {
		t.Errorf("fired job = %+v", fired)
	}

	clock.Advance(time.Hour)
	exec.expectNoFire(t)

	got, err := s.Get(job.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.State != StateFired || got.FireCount != 1 || !got.NextFireAt.IsZero() {
		t.Errorf("after fire: %+v", got)
	}

	if err := s.Cancel(job.ID); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Cancel(fired) error = %v, want ErrJobNotFound", err)
	}
}

func TestScheduler_PastFireTimeFiresImmediately(t *testing.T) {
	exec := newRecordingExecutor()
	s, clock := newTestScheduler(t, exec)

	if _, err := s.ScheduleOnce(Request{
		Module:   "led",
		FireAt:   clock.Now().Add(-time.Minute),
		Commands: commands(),
	}); err != nil {
		t.Fatalf("ScheduleOnce() error = %v", err)
	}

	exec.expectFire(t)
}

func TestScheduler_CronFiresEachTick(t *testing.T) {
	exec := newRecordingExecutor()
	s, clock := newTestScheduler(t, exec)

	job, err := s.ScheduleCron(Request{Module: "ndi", Actor: "bob", Cron: "*/5 * * * *", Commands: commands()})
	if err != nil {
		t.Fatalf("ScheduleCron() error = %v", err)
	}
	want := time.Date(2026, 1, 1, 12, 5, 0, 0, time.UTC)
	if !job.NextFireAt.Equal(want) {
		t.Errorf("NextFireAt = %v, want %v", job.NextFireAt, want)
	}

	for i := 1; i <= 3; i++ {
		waitForWaiters(t, clock, 1)
		clock.Advance(5 * time.Minute)
		exec.expectFire(t)
	}

	waitForWaiters(t, clock, 1)
	got, err := s.Get(job.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.State != StatePending || got.FireCount != 3 {
		t.Errorf("after three ticks: %+v", got)
	}
	if want := time.Date(2026, 1, 1, 12, 20, 0, 0, time.UTC); !got.NextFireAt.Equal(want) {
		t.Errorf("NextFireAt = %v, want %v", got.NextFireAt, want)
	}

	if err := s.Cancel(job.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	clock.Advance(time.Hour)
	exec.expectNoFire(t)

	if err := s.Cancel(job.ID); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("second Cancel() error = %v, want ErrJobNotFound", err)
	}
}

func TestScheduler_InvalidCronRejectedAtSubmission(t *testing.T) {
	s, _ := newTestScheduler(t, newRecordingExecutor())

	for _, expr := range []string{
		"* * * *",
		"61 * * * *",
		"every minute",
		"* * * * * *",
		"@every 1s",
		"@every 1m",
		"TZ=Asia/Tokyo * * * * *",
		"CRON_TZ=Europe/London 0 9 * * *",
	} {
		if _, err := s.ScheduleCron(Request{Module: "led", Cron: expr, Commands: commands()}); !errors.Is(err, ErrInvalidCron) {
			t.Errorf("ScheduleCron(%q) error = %v, want ErrInvalidCron", expr, err)
		}
	}
	if n := len(s.List()); n != 0 {
		t.Errorf("rejected submissions created %d jobs", n)
	}
}

func TestScheduler_CronAcceptsFieldsAndDescriptors(t *testing.T) {
	s, _ := newTestScheduler(t, newRecordingExecutor())

	for _, expr := range []string{"0 9 * * 1-5", "*/15 * * * *", "@hourly", "@daily", " 0 0 * * 0 "} {
		if _, err := s.ScheduleCron(Request{Module: "led", Cron: expr, Commands: commands()}); err != nil {
			t.Errorf("ScheduleCron(%q) error = %v", expr, err)
		}
	}
}

func TestScheduler_CronBackwardClockStepDoesNotRepeatTick(t *testing.T) {
	clock := newFakeClock()
	fired := make(chan Job, 4)
	var once sync.Once
	exec := ExecutorFunc(func(_ context.Context, job Job) {
		// The wall clock jumps back 30s while the batch runs.
		once.Do(func() { clock.Set(clock.Now().Add(-30 * time.Second)) })
		fired <- job
	})
	s := New(exec, WithClock(clock), WithIDGenerator(sequentialIDs()))
	t.Cleanup(s.Stop)

	job, err := s.ScheduleCron(Request{Module: "led", Cron: "* * * * *", Commands: commands()})
	if err != nil {
		t.Fatalf("ScheduleCron() error = %v", err)
	}

	waitForWaiters(t, clock, 1)
	clock.Advance(time.Minute)
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the 12:01 tick to fire")
	}

	waitForWaiters(t, clock, 1)
	select {
	case j := <-fired:
		t.Fatalf("tick repeated after clock step: fire_count=%d", j.FireCount)
	case <-time.After(50 * time.Millisecond):
	}

	got, err := s.Get(job.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if want := time.Date(2026, 1, 1, 12, 2, 0, 0, time.UTC); !got.NextFireAt.Equal(want) {
		t.Errorf("NextFireAt = %v, want %v", got.NextFireAt, want)
	}
	if got.FireCount != 1 {
		t.Errorf("FireCount = %d, want 1", got.FireCount)
	}
}

func TestScheduler_RequestValidation(t *testing.T) {
	s, clock := newTestScheduler(t, newRecordingExecutor())
	at := clock.Now().Add(time.Minute)

	tests := []struct {
		name    string
		submit  func() error
		wantErr error
	}{
		{
			name: "once without commands",
			submit: func() error {
				_, err := s.ScheduleOnce(Request{FireAt: at})
				return err
			},
			wantErr: ErrNoCommands,
		},
		{
			name: "command without device",
			submit: func() error {
				_, err := s.ScheduleOnce(Request{FireAt: at, Commands: []Command{{Action: "off"}}})
				return err
			},
			wantErr: ErrInvalidCommand,
		},
		{
			name: "command without action",
			submit: func() error {
				_, err := s.ScheduleCron(Request{Cron: "@hourly", Commands: []Command{{DeviceID: "pi-01"}}})
				return err
			},
			wantErr: ErrInvalidCommand,
		},
		{
			name: "once without time",
			submit: func() error {
				_, err := s.ScheduleOnce(Request{Commands: commands()})
				return err
			},
			wantErr: ErrInvalidTrigger,
		},
		{
			name: "cron with fire time",
			submit: func() error {
				_, err := s.ScheduleCron(Request{Cron: "@hourly", FireAt: at, Commands: commands()})
				return err
			},
			wantErr: ErrInvalidTrigger,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.submit(); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// blockingExecutor holds each batch until released and tracks overlap.
type blockingExecutor struct {
	started    chan Job
	release    chan struct{}
	running    atomic.Int32
	maxRunning atomic.Int32
}

func newBlockingExecutor() *blockingExecutor {
	return &blockingExecutor{started: make(chan Job, 4), release: make(chan struct{})}
}

func (e *blockingExecutor) Execute(_ context.Context, job Job) {
	n := e.running.Add(1)
	for {
		m := e.maxRunning.Load()
		if n <= m || e.maxRunning.CompareAndSwap(m, n) {
			break
		}
	}
	e.started <- job
	<-e.release
	e.running.Add(-1)
}

func TestScheduler_CronRunsDoNotOverlap(t *testing.T) {
	exec := newBlockingExecutor()
	s, clock := newTestScheduler(t, exec)

	job, err := s.ScheduleCron(Request{Module: "led", Cron: "*/5 * * * *", Commands: commands()})
	if err != nil {
		t.Fatalf("ScheduleCron() error = %v", err)
	}

	waitForWaiters(t, clock, 1)
	clock.Advance(5 * time.Minute)
	<-exec.started

	// Four ticks pass while the first batch is still running.
	clock.Advance(20 * time.Minute)
	select {
	case <-exec.started:
		t.Fatal("second run started while the first was still running")
	case <-time.After(50 * time.Millisecond):
	}

	exec.release <- struct{}{}
	waitForWaiters(t, clock, 1)

	got, err := s.Get(job.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.FireCount != 1 {
		t.Errorf("FireCount = %d, want 1 (missed ticks coalesce)", got.FireCount)
	}
	if want := time.Date(2026, 1, 1, 12, 30, 0, 0, time.UTC); !got.NextFireAt.Equal(want) {
		t.Errorf("NextFireAt = %v, want %v", got.NextFireAt, want)
	}
	if exec.maxRunning.Load() != 1 {
		t.Errorf("max concurrent runs = %d, want 1", exec.maxRunning.Load())
	}
}

func TestScheduler_CancelBeforeFire(t *testing.T) {
	exec := newRecordingExecutor()
	s, clock := newTestScheduler(t, exec)

	job, err := s.ScheduleOnce(Request{Module: "led", FireAt: clock.Now().Add(10 * time.Second), Commands: commands()})
	if err != nil {
		t.Fatalf("ScheduleOnce() error = %v", err)
	}
	waitForWaiters(t, clock, 1)

	if err := s.Cancel(job.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	clock.Advance(time.Minute)
	exec.expectNoFire(t)

	got, _ := s.Get(job.ID) //nolint:errcheck // retained job
	if got.State != StateCancelled || got.FireCount != 0 {
		t.Errorf("after cancel: %+v", got)
	}
}

func TestScheduler_CancelDuringBatchLetsItFinish(t *testing.T) {
	exec := newBlockingExecutor()
	s, clock := newTestScheduler(t, exec)

	job, err := s.ScheduleCron(Request{Module: "led", Cron: "* * * * *", Commands: commands()})
	if err != nil {
		t.Fatalf("ScheduleCron() error = %v", err)
	}
	waitForWaiters(t, clock, 1)
	clock.Advance(time.Minute)
	<-exec.started

	if err := s.Cancel(job.ID); err != nil {
		t.Fatalf("Cancel() during batch error = %v", err)
	}
	exec.release <- struct{}{}

	clock.Advance(time.Hour)
	select {
	case <-exec.started:
		t.Fatal("cancelled job fired again")
	case <-time.After(50 * time.Millisecond):
	}

	got, _ := s.Get(job.ID) //nolint:errcheck // retained job
	if got.State != StateCancelled || got.FireCount != 1 {
		t.Errorf("after cancel: %+v", got)
	}
}

func TestScheduler_CancelUnknown(t *testing.T) {
	s, _ := newTestScheduler(t, newRecordingExecutor())
	if err := s.Cancel("nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Cancel(nope) error = %v", err)
	}
	if _, err := s.Get("nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Get(nope) error = %v", err)
	}
}

func TestScheduler_ExecutorPanicIsContained(t *testing.T) {
	var calls atomic.Int32
	exec := ExecutorFunc(func(context.Context, Job) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
	})
	s, clock := newTestScheduler(t, exec)

	if _, err := s.ScheduleCron(Request{Module: "led", Cron: "* * * * *", Commands: commands()}); err != nil {
		t.Fatalf("ScheduleCron() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		waitForWaiters(t, clock, 1)
		clock.Advance(time.Minute)
	}
	waitForWaiters(t, clock, 1)

	if calls.Load() != 2 {
		t.Errorf("executor calls = %d, want 2 (job survives a panic)", calls.Load())
	}
}

func TestScheduler_ListAndRetention(t *testing.T) {
	exec := newRecordingExecutor()
	s, clock := newTestScheduler(t, exec)

	if _, err := s.ScheduleOnce(Request{Module: "led", FireAt: clock.Now(), Commands: commands()}); err != nil {
		t.Fatalf("ScheduleOnce() error = %v", err)
	}
	exec.expectFire(t)
	clock.Advance(time.Second)
	if _, err := s.ScheduleCron(Request{Module: "ndi", Cron: "@hourly", Commands: commands()}); err != nil {
		t.Fatalf("ScheduleCron() error = %v", err)
	}

	all := s.List()
	if len(all) != 2 || all[0].ID != "job-1" || all[1].ID != "job-2" {
		t.Fatalf("List() = %+v", all)
	}
	if ndi := s.ListByModule("ndi"); len(ndi) != 1 || ndi[0].Kind != KindCron {
		t.Errorf("ListByModule(ndi) = %+v", ndi)
	}

	// Fired jobs age out; pending ones stay.
	s.retention = time.Hour
	clock.Advance(2 * time.Hour)
	remaining := s.List()
	if len(remaining) != 1 || remaining[0].ID != "job-2" {
		t.Errorf("after retention: %+v", remaining)
	}
}

func TestScheduler_StopRejectsNewJobs(t *testing.T) {
	clock := newFakeClock()
	s := New(newRecordingExecutor(), WithClock(clock))

	if _, err := s.ScheduleCron(Request{Module: "led", Cron: "@daily", Commands: commands()}); err != nil {
		t.Fatalf("ScheduleCron() error = %v", err)
	}
	waitForWaiters(t, clock, 1)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return")
	}

	if _, err := s.ScheduleOnce(Request{FireAt: clock.Now(), Commands: commands()}); !errors.Is(err, ErrSchedulerStopped) {
		t.Errorf("ScheduleOnce after Stop error = %v", err)
	}
	s.Stop()
}

func TestScheduler_ConcurrentSubmissions(t *testing.T) {
	s, clock := newTestScheduler(t, newRecordingExecutor())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ScheduleOnce(Request{Module: "led", FireAt: clock.Now().Add(time.Hour), Commands: commands()}); err != nil {
				t.Errorf("ScheduleOnce() error = %v", err)
			}
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, j := range s.List() {
		if seen[j.ID] {
			t.Errorf("duplicate job id %s", j.ID)
		}
		seen[j.ID] = true
	}
	if len(seen) != 20 {
		t.Errorf("jobs = %d, want 20", len(seen))
	}
}

func TestNext(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) // a Thursday

	tests := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2026, 1, 1, 12, 1, 0, 0, time.UTC)},
		{"30 9 * * *", time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)},
		{"0 8 * * 1", time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)}, // Monday
		{"0 8 * * 0", time.Date(2026, 1, 4, 8, 0, 0, 0, time.UTC)}, // Sunday is 0
		{"@hourly", time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Next(tt.expr, base)
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Next() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := Next("bogus", base); !errors.Is(err, ErrInvalidCron) {
		t.Errorf("Next(bogus) error = %v", err)
	}
}

func TestParseCommands(t *testing.T) {
	cmds, err := ParseCommands([]map[string]any{
		{"device_id": "pi-01", "action": "solid", "params": map[string]any{"color": "blue"}},
		{"device_id": "pi-02", "action": "off"},
	})
	if err != nil {
		t.Fatalf("ParseCommands() error = %v", err)
	}
	if len(cmds) != 2 || cmds[0].Params["color"] != "blue" || cmds[1].Params == nil {
		t.Errorf("ParseCommands() = %+v", cmds)
	}

	if _, err := ParseCommands(nil); !errors.Is(err, ErrNoCommands) {
		t.Errorf("empty error = %v", err)
	}
	if _, err := ParseCommands([]map[string]any{{"action": "off"}}); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("missing device error = %v", err)
	}
	if _, err := ParseCommands([]map[string]any{{"device_id": "pi-01", "action": "off", "params": "x"}}); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("bad params error = %v", err)
	}
}

func TestJobMarshalJSON(t *testing.T) {
	job := Job{
		ID:         "job-1",
		Module:     "led",
		Kind:       KindCron,
		Cron:       "@hourly",
		Commands:   commands(),
		State:      StatePending,
		CreatedAt:  time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		NextFireAt: time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded["job_id"] != "job-1" || decoded["next_fire_at"] != "2026-01-01T13:00:00Z" {
		t.Errorf("decoded = %v", decoded)
	}
	for _, absent := range []string{"at", "last_fired_at"} {
		if _, ok := decoded[absent]; ok {
			t.Errorf("zero %s should be omitted", absent)
		}
	}
}
