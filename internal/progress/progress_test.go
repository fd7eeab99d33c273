package progress

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

func collect() (*CallbackReporter, func() []Update) {
	var mu sync.Mutex
	var updates []Update
	r := NewCallbackReporter(func(u Update) {
		mu.Lock()
		updates = append(updates, u)
		mu.Unlock()
	})
	return r, func() []Update {
		mu.Lock()
		defer mu.Unlock()
		return append([]Update(nil), updates...)
	}
}

// TestCallbackReporter_Lifecycle tests start, update and completion of two entries
func TestCallbackReporter_Lifecycle(t *testing.T) {
	r, updates := collect()

	r.SetTotal(2)
	r.Start("cloud.las", 1000)
	r.Update(400)
	r.Complete()
	r.Start("ortho.tif", 21)
	r.Complete()

	got := updates()
	wantTypes := []UpdateType{UpdateStart, UpdateProgress, UpdateComplete, UpdateStart, UpdateComplete}
	if len(got) != len(wantTypes) {
		t.Fatalf("got %d updates, want %d", len(got), len(wantTypes))
	}
	for i, want := range wantTypes {
		if got[i].Type != want {
			t.Errorf("update %d type = %v, want %v", i, got[i].Type, want)
		}
		if got[i].ItemsTotal != 2 {
			t.Errorf("update %d ItemsTotal = %d", i, got[i].ItemsTotal)
		}
	}

	if got[1].Item != "cloud.las" || got[1].Done != 400 || got[1].Units != 1000 {
		t.Errorf("progress update = %+v", got[1])
	}
	if got[2].ItemsCompleted != 1 || got[2].Done != 1000 {
		t.Errorf("first completion = %+v", got[2])
	}
	if got[4].ItemsCompleted != 2 || got[4].Item != "ortho.tif" {
		t.Errorf("second completion = %+v", got[4])
	}
}

// TestCallbackReporter_Rate tests the units per second of progress updates
func TestCallbackReporter_Rate(t *testing.T) {
	r, updates := collect()

	r.Start("cloud.las", 100000)
	time.Sleep(5 * time.Millisecond)
	r.Update(50000)

	got := updates()
	last := got[len(got)-1]
	if last.UnitsPerSecond <= 0 {
		t.Error("expected a positive rate")
	}
	if last.Elapsed <= 0 {
		t.Error("expected elapsed time")
	}
}

// TestCallbackReporter_Error tests error reporting
func TestCallbackReporter_Error(t *testing.T) {
	r, updates := collect()

	r.Start("broken.laz", 100)
	testErr := io.ErrUnexpectedEOF
	r.Error(testErr)

	got := updates()
	last := got[len(got)-1]
	if last.Type != UpdateError {
		t.Errorf("expected UpdateError, got %v", last.Type)
	}
	if !errors.Is(last.Error, testErr) {
		t.Errorf("expected error %v, got %v", testErr, last.Error)
	}
	if last.ItemsCompleted != 0 {
		t.Errorf("a failed entry must not count as completed")
	}
}

// TestCallbackReporter_Reentrant tests that callbacks may call the reporter
func TestCallbackReporter_Reentrant(t *testing.T) {
	done := make(chan bool, 1)

	var reporter *CallbackReporter
	reporter = NewCallbackReporter(func(u Update) {
		if u.Type == UpdateStart {
			reporter.Update(10)
		}
	})

	go func() {
		reporter.SetTotal(1)
		reporter.Start("cloud.las", 100)
		reporter.Complete()
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("deadlock detected - callback was called while holding lock")
	}
}

// TestCallbackReporter_Concurrent tests concurrent updates
func TestCallbackReporter_Concurrent(t *testing.T) {
	r, updates := collect()
	r.SetTotal(5)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Start("tile", 10)
			for j := 0; j < 10; j++ {
				r.Update(int64(j))
			}
			r.Complete()
		}()
	}
	wg.Wait()

	completed := 0
	for _, u := range updates() {
		if u.Type == UpdateComplete {
			completed = max(completed, u.ItemsCompleted)
		}
	}
	if completed != 5 {
		t.Errorf("ItemsCompleted = %d, want 5", completed)
	}
}

// TestWriterReporter tests the line output
func TestWriterReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewWriterReporter(&buf)

	r.SetTotal(2)
	r.Start("cloud.las", 10)
	r.Update(5)
	r.Complete()
	r.Start("ortho.tif", 10)
	r.Error(errors.New("boom"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	if lines[0] != "[1/2] building cloud.las" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "[1/2] built cloud.las in ") {
		t.Errorf("line 1 = %q", lines[1])
	}
	if lines[3] != "[2/2] failed ortho.tif: boom" {
		t.Errorf("line 3 = %q", lines[3])
	}
}

// TestReader tests the progress-tracking reader
func TestReader(t *testing.T) {
	data := []byte("Hello, World!")

	r, updates := collect()
	r.Start("copy", int64(len(data)))
	pr := NewReader(bytes.NewReader(data), r)

	out, err := io.ReadAll(pr)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Error("data changed while reading")
	}

	got := updates()
	if last := got[len(got)-1]; last.Done != int64(len(data)) {
		t.Errorf("last progress = %d, want %d", last.Done, len(data))
	}
}

// TestFormatBytes tests byte formatting
func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{500, "500 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1024 * 1024, "1.0 MB"},
		{1536 * 1024, "1.5 MB"},
		{1024 * 1024 * 1024, "1.0 GB"},
		{1536 * 1024 * 1024, "1.5 GB"},
	}

	for _, tt := range tests {
		got := FormatBytes(tt.bytes)
		if got != tt.expected {
			t.Errorf("FormatBytes(%d) = %s, want %s", tt.bytes, got, tt.expected)
		}
	}
}

// TestFormatProgress tests progress bar generation
func TestFormatProgress(t *testing.T) {
	tests := []struct {
		current  int64
		total    int64
		width    int
		contains string
	}{
		{0, 100, 20, "[>"},
		{50, 100, 20, "50.0%"},
		{100, 100, 20, "100.0%"},
		{0, 0, 20, ""},
	}

	for _, tt := range tests {
		got := FormatProgress(tt.current, tt.total, tt.width)
		if tt.contains != "" && !strings.Contains(got, tt.contains) {
			t.Errorf("FormatProgress(%d, %d, %d) = %s, should contain '%s'",
				tt.current, tt.total, tt.width, got, tt.contains)
		}
	}
}

// TestNullReporter tests that NullReporter doesn't panic
func TestNullReporter(t *testing.T) {
	var nr NullReporter

	nr.SetTotal(10)
	nr.Start("cloud.las", 100)
	nr.Update(50)
	nr.Complete()
	nr.Error(io.EOF)
}
