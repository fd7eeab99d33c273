// Package progress reports the progress of builds: how many entries are
// done and how far the current one is.
package progress

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Reporter receives build progress. Implementations must be safe for
// concurrent use.
type Reporter interface {
	// SetTotal sets the number of entries to build
	SetTotal(items int)
	// Start begins an entry with the given amount of work (points, tiles
	// or bytes)
	Start(item string, units int64)
	// Update reports the work done on the current entry
	Update(done int64)
	// Complete marks the current entry as built
	Complete()
	// Error reports that the current entry failed
	Error(err error)
}

// Callback is a function that receives progress updates
type Callback func(update Update)

// Update represents a progress update
type Update struct {
	Type           UpdateType
	Item           string
	Done           int64
	Units          int64
	ItemsCompleted int
	ItemsTotal     int
	UnitsPerSecond float64
	Elapsed        time.Duration
	Error          error
}

// UpdateType indicates the type of progress update
type UpdateType int

const (
	UpdateStart UpdateType = iota
	UpdateProgress
	UpdateComplete
	UpdateError
)

func (t UpdateType) String() string {
	switch t {
	case UpdateStart:
		return "start"
	case UpdateProgress:
		return "progress"
	case UpdateComplete:
		return "complete"
	case UpdateError:
		return "error"
	default:
		return "unknown"
	}
}

// CallbackReporter implements Reporter with a callback function
type CallbackReporter struct {
	callback       Callback
	mu             sync.Mutex
	item           string
	units          int64
	done           int64
	itemsTotal     int
	itemsCompleted int
	startTime      time.Time
}

// NewCallbackReporter creates a new CallbackReporter
func NewCallbackReporter(callback Callback) *CallbackReporter {
	return &CallbackReporter{
		callback: callback,
	}
}

// SetTotal sets the number of entries to build
func (r *CallbackReporter) SetTotal(items int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.itemsTotal = items
}

// snapshot builds an update from the current state. r.mu must be held.
func (r *CallbackReporter) snapshot(typ UpdateType) Update {
	u := Update{
		Type:           typ,
		Item:           r.item,
		Done:           r.done,
		Units:          r.units,
		ItemsCompleted: r.itemsCompleted,
		ItemsTotal:     r.itemsTotal,
	}
	if !r.startTime.IsZero() {
		u.Elapsed = time.Since(r.startTime)
		if s := u.Elapsed.Seconds(); s > 0 {
			u.UnitsPerSecond = float64(r.done) / s
		}
	}
	return u
}

// emit calls the callback outside the lock so that it may call back into
// the reporter.
func (r *CallbackReporter) emit(u Update) {
	r.mu.Lock()
	callback := r.callback
	r.mu.Unlock()
	if callback != nil {
		callback(u)
	}
}

// Start begins an entry
func (r *CallbackReporter) Start(item string, units int64) {
	r.mu.Lock()
	r.item = item
	r.units = units
	r.done = 0
	r.startTime = time.Now()
	u := r.snapshot(UpdateStart)
	r.mu.Unlock()

	r.emit(u)
}

// Update reports the work done on the current entry
func (r *CallbackReporter) Update(done int64) {
	r.mu.Lock()
	r.done = done
	u := r.snapshot(UpdateProgress)
	r.mu.Unlock()

	r.emit(u)
}

// Complete marks the current entry as built
func (r *CallbackReporter) Complete() {
	r.mu.Lock()
	r.itemsCompleted++
	r.done = r.units
	u := r.snapshot(UpdateComplete)
	r.mu.Unlock()

	r.emit(u)
}

// Error reports that the current entry failed
func (r *CallbackReporter) Error(err error) {
	r.mu.Lock()
	u := r.snapshot(UpdateError)
	u.Error = err
	r.mu.Unlock()

	r.emit(u)
}

// NewWriterReporter returns a reporter printing one line per start,
// completion and error to w.
func NewWriterReporter(w io.Writer) *CallbackReporter {
	var mu sync.Mutex
	return NewCallbackReporter(func(u Update) {
		var line string
		switch u.Type {
		case UpdateStart:
			line = fmt.Sprintf("[%d/%d] building %s", u.ItemsCompleted+1, u.ItemsTotal, u.Item)
		case UpdateComplete:
			line = fmt.Sprintf("[%d/%d] built %s in %s", u.ItemsCompleted, u.ItemsTotal, u.Item, u.Elapsed.Round(time.Millisecond))
		case UpdateError:
			line = fmt.Sprintf("[%d/%d] failed %s: %v", u.ItemsCompleted+1, u.ItemsTotal, u.Item, u.Error)
		default:
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(w, line)
	})
}

// Reader wraps an io.Reader and reports the bytes read so far
type Reader struct {
	reader   io.Reader
	reporter Reporter
	read     int64
}

// NewReader creates a new progress-tracking reader
func NewReader(r io.Reader, reporter Reporter) *Reader {
	return &Reader{
		reader:   r,
		reporter: reporter,
	}
}

// Read implements io.Reader
func (pr *Reader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 {
		pr.read += int64(n)
		if pr.reporter != nil {
			pr.reporter.Update(pr.read)
		}
	}
	return n, err
}

// NullReporter is a no-op reporter
type NullReporter struct{}

func (NullReporter) SetTotal(items int)             {}
func (NullReporter) Start(item string, units int64) {}
func (NullReporter) Update(done int64)              {}
func (NullReporter) Complete()                      {}
func (NullReporter) Error(err error)                {}

// FormatBytes formats bytes into human-readable string
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// FormatProgress returns a progress bar string
func FormatProgress(current, total int64, width int) string {
	if total == 0 {
		return ""
	}

	percent := float64(current) / float64(total)
	filled := int(percent * float64(width))
	if filled > width {
		filled = width
	}

	bar := make([]byte, width)
	for i := 0; i < width; i++ {
		if i < filled {
			bar[i] = '='
		} else if i == filled {
			bar[i] = '>'
		} else {
			bar[i] = ' '
		}
	}

	return fmt.Sprintf("[%s] %5.1f%%", string(bar), percent*100)
}
