package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/flowlab/flowcal/pkg/config"
	"github.com/flowlab/flowcal/pkg/utils/ptr"
)

func TestConsoleRecorder(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		max       int
		lines     []string
		wantKept  []string
		wantAvg   float64
		wantCount int
	}{
		{
			name:      "keeps everything under the limit",
			max:       10,
			lines:     []string{"1.0", "hola", "3.0"},
			wantKept:  []string{"1.0", "hola", "3.0"},
			wantAvg:   2,
			wantCount: 2,
		},
		{
			name:      "drops the oldest lines",
			max:       2,
			lines:     []string{"1", "2", "3", "4"},
			wantKept:  []string{"3", "4"},
			wantAvg:   2.5,
			wantCount: 4,
		},
		{
			name:      "ignores non finite numbers",
			max:       5,
			lines:     []string{"NaN", "+Inf", " -2 "},
			wantKept:  []string{"NaN", "+Inf", " -2 "},
			wantAvg:   -2,
			wantCount: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewConsoleRecorder(tt.max)
			for i, l := range tt.lines {
				r.AddRecord(base.Add(time.Duration(i)*time.Second), l, false)
			}

			got := r.GetRecords()
			if len(got) != len(tt.wantKept) {
				t.Fatalf("kept %d lines, want %d", len(got), len(tt.wantKept))
			}
			for i := range got {
				if got[i].Text != tt.wantKept[i] {
					t.Fatalf("line %d = %q, want %q", i, got[i].Text, tt.wantKept[i])
				}
			}

			avg, n, ok := r.Average()
			if !ok || avg != tt.wantAvg || n != tt.wantCount {
				t.Fatalf("average = %v over %d (%t), want %v over %d", avg, n, ok, tt.wantAvg, tt.wantCount)
			}
		})
	}
}

func TestConsoleRecorderSentLinesAndReset(t *testing.T) {
	r := NewConsoleRecorder(3)
	r.AddRecordNow("5", true)
	if _, _, ok := r.Average(); ok {
		t.Fatalf("sent lines must not feed the average")
	}

	r.AddRecordNow("1", false)
	r.AddRecordNow("2", false)
	r.Resize(1)
	if got := r.GetRecords(); len(got) != 1 || got[0].Text != "2" {
		t.Fatalf("after resize = %+v", got)
	}

	r.ClearRecords()
	if len(r.GetRecords()) != 0 {
		t.Fatalf("records should be empty")
	}
	if _, _, ok := r.Average(); ok {
		t.Fatalf("average should reset")
	}
}

func TestPollConsole(t *testing.T) {
	_, fake := setupDaemon(t, nil)
	fake.lines = []string{"1.0", "", "3.0"}

	// stops at the first empty read
	if n := pollConsole(time.Millisecond); n != 1 {
		t.Fatalf("read %d lines, want 1", n)
	}
	if n := pollConsole(time.Millisecond); n != 1 {
		t.Fatalf("read %d lines, want 1", n)
	}
	if n := pollConsole(time.Millisecond); n != 0 {
		t.Fatalf("read %d lines, want 0", n)
	}
	if avg, n, _ := console.Average(); avg != 2 || n != 2 {
		t.Fatalf("average = %v over %d", avg, n)
	}

	fake.lines = []string{"9"}
	sessionRunning.Store(true)
	if n := pollConsole(time.Millisecond); n != 0 {
		t.Fatalf("the reader must not touch the link during a session")
	}
	sessionRunning.Store(false)

	linkMu.Lock()
	if n := pollConsole(time.Millisecond); n != 0 {
		t.Fatalf("the reader must not wait for the link")
	}
	linkMu.Unlock()

	fake.connected = false
	if n := pollConsole(time.Millisecond); n != 0 {
		t.Fatalf("a closed link has nothing to read")
	}
}

func TestConsoleLoopStops(t *testing.T) {
	setupDaemon(t, &config.RawFileConfig{PollIntervalMillis: ptr.To(1)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		consoleLoop(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("consoleLoop did not stop")
	}
}
