package status

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MacJediWizard/keldris-desktop/internal/env"
	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) (*Store, *env.StubClock) {
	t.Helper()
	clock := env.NewStubClock(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
	return NewStore(filepath.Join(t.TempDir(), "status.properties"), clock, zerolog.Nop()), clock
}

func TestStore_LoadMissingFile(t *testing.T) {
	store, _ := newTestStore(t)
	st := store.Load()
	if st.LastResult != HasNotRun {
		t.Errorf("LastResult = %s, want %s", st.LastResult, HasNotRun)
	}
	if st.LastResultDate != nil || st.LastSuccessDate != nil {
		t.Errorf("expected nil dates, got %v / %v", st.LastResultDate, st.LastSuccessDate)
	}
}

func TestStore_SetLastStatus(t *testing.T) {
	store, clock := newTestStore(t)

	if err := store.SetLastStatus(Success); err != nil {
		t.Fatalf("SetLastStatus(SUCCESS) error = %v", err)
	}
	first := store.Load()
	if first.LastResult != Success {
		t.Fatalf("LastResult = %s, want SUCCESS", first.LastResult)
	}
	if first.LastSuccessDate == nil || !first.LastSuccessDate.Equal(clock.Now()) {
		t.Fatalf("LastSuccessDate = %v, want %v", first.LastSuccessDate, clock.Now())
	}

	clock.Advance(time.Hour)
	if err := store.SetLastStatus(Failure); err != nil {
		t.Fatalf("SetLastStatus(FAILURE) error = %v", err)
	}
	second := store.Load()
	if second.LastResult != Failure {
		t.Errorf("LastResult = %s, want FAILURE", second.LastResult)
	}
	if second.LastResultDate == nil || !second.LastResultDate.Equal(clock.Now()) {
		t.Errorf("LastResultDate = %v, want %v", second.LastResultDate, clock.Now())
	}
	if second.LastSuccessDate == nil || !second.LastSuccessDate.Equal(*first.LastSuccessDate) {
		t.Errorf("LastSuccessDate = %v, want unchanged %v", second.LastSuccessDate, first.LastSuccessDate)
	}
}

func TestStore_FailureBeforeAnySuccess(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.SetLastStatus(Failure); err != nil {
		t.Fatalf("SetLastStatus() error = %v", err)
	}
	st := store.Load()
	if st.LastSuccessDate != nil {
		t.Errorf("LastSuccessDate = %v, want nil", st.LastSuccessDate)
	}
}

func TestStore_LoadMalformedFields(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantResult  ResultKind
		wantDate    bool
		wantSuccess bool
	}{
		{
			name:        "non numeric lastdate",
			content:     "lastresult: FAILURE\nlastdate: yesterday\nlastsuccess: 1705314600000\n",
			wantResult:  Failure,
			wantDate:    false,
			wantSuccess: true,
		},
		{
			name:       "unknown result name",
			content:    "lastresult: EXPLODED\nlastdate: 1705314600000\n",
			wantResult: Unknown,
			wantDate:   true,
		},
		{
			name:       "missing result",
			content:    "lastdate: 1705314600000\n",
			wantResult: Unknown,
			wantDate:   true,
		},
		{
			name:       "not yaml at all",
			content:    "{{{ garbage",
			wantResult: Unknown,
		},
		{
			name:        "one unparseable line",
			content:     "lastresult: SUCCESS\nlastsuccess: 1700000000000\nlastdate: \"17000\n",
			wantResult:  Success,
			wantDate:    false,
			wantSuccess: true,
		},
		{
			name:       "empty file",
			content:    "",
			wantResult: HasNotRun,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := newTestStore(t)
			if err := os.WriteFile(store.Path(), []byte(tt.content), 0600); err != nil {
				t.Fatalf("WriteFile() error: %v", err)
			}
			st := store.Load()
			if st.LastResult != tt.wantResult {
				t.Errorf("LastResult = %s, want %s", st.LastResult, tt.wantResult)
			}
			if (st.LastResultDate != nil) != tt.wantDate {
				t.Errorf("LastResultDate = %v, wantDate %v", st.LastResultDate, tt.wantDate)
			}
			if (st.LastSuccessDate != nil) != tt.wantSuccess {
				t.Errorf("LastSuccessDate = %v, wantSuccess %v", st.LastSuccessDate, tt.wantSuccess)
			}
		})
	}
}

func TestStore_FailureAfterCorruptLineKeepsLastSuccess(t *testing.T) {
	store, _ := newTestStore(t)
	content := "lastresult: SUCCESS\nlastsuccess: 1700000000000\nlastdate: \"17000\n"
	if err := os.WriteFile(store.Path(), []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	if err := store.SetLastStatus(Failure); err != nil {
		t.Fatalf("SetLastStatus(FAILURE) error = %v", err)
	}
	st := store.Load()
	if st.LastResult != Failure {
		t.Errorf("LastResult = %s, want FAILURE", st.LastResult)
	}
	want := time.UnixMilli(1700000000000)
	if st.LastSuccessDate == nil || !st.LastSuccessDate.Equal(want) {
		t.Errorf("LastSuccessDate = %v, want %v", st.LastSuccessDate, want)
	}
}

func TestIsStale(t *testing.T) {
	t0 := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	running := Status{LastResult: Running, LastResultDate: &t0}

	tests := []struct {
		name string
		st   Status
		now  time.Time
		want bool
	}{
		{name: "fresh", st: running, now: t0.Add(HeartbeatInterval), want: false},
		{name: "boundary minus one tick", st: running, now: t0.Add(2*HeartbeatInterval - time.Nanosecond), want: false},
		{name: "exactly at boundary", st: running, now: t0.Add(2 * HeartbeatInterval), want: false},
		{name: "past boundary", st: running, now: t0.Add(2*HeartbeatInterval + time.Millisecond), want: true},
		{name: "success never stale", st: Status{LastResult: Success, LastResultDate: &t0}, now: t0.Add(time.Hour), want: false},
		{name: "running without date", st: Status{LastResult: Running}, now: t0.Add(time.Hour), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsStale(tt.st, tt.now); got != tt.want {
				t.Errorf("IsStale() = %v, want %v", got, tt.want)
			}
		})
	}

	if got := running.Effective(t0.Add(time.Minute)); got != Stale {
		t.Errorf("Effective() = %s, want STALE", got)
	}
}

func TestStore_HeartbeatSkipsAfterTerminal(t *testing.T) {
	store, clock := newTestStore(t)

	// A terminal status from an earlier run does not block the heartbeat.
	if err := store.SetLastStatus(Success); err != nil {
		t.Fatalf("SetLastStatus() error = %v", err)
	}
	clock.Advance(time.Minute)
	since := clock.Now()

	wrote, err := store.Heartbeat(since)
	if err != nil || !wrote {
		t.Fatalf("Heartbeat() = %v, %v; want write", wrote, err)
	}
	if got := store.Load().LastResult; got != Running {
		t.Fatalf("LastResult = %s, want RUNNING", got)
	}

	clock.Advance(3 * time.Second)
	if err := store.SetLastStatus(Failure); err != nil {
		t.Fatalf("SetLastStatus() error = %v", err)
	}

	// A lagging tick must not overwrite the terminal status of this run.
	wrote, err = store.Heartbeat(since)
	if err != nil || wrote {
		t.Fatalf("Heartbeat() = %v, %v; want skip", wrote, err)
	}
	st := store.Load()
	if st.LastResult != Failure {
		t.Errorf("LastResult = %s, want FAILURE", st.LastResult)
	}
	if st.LastSuccessDate == nil {
		t.Error("LastSuccessDate lost across heartbeat writes")
	}
}

func TestParseResultKind(t *testing.T) {
	if got := ParseResultKind(" success "); got != Success {
		t.Errorf("ParseResultKind() = %s, want SUCCESS", got)
	}
	if got := ParseResultKind("bogus"); got != Unknown {
		t.Errorf("ParseResultKind() = %s, want UNKNOWN", got)
	}
}
