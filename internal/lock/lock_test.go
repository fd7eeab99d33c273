package lock

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Ning0612/ddb/internal/testutil"
)

// catalogRoot creates a catalog root with its marker directory and returns
// both paths
func catalogRoot(t *testing.T) (root, marker string, cleanup func()) {
	t.Helper()
	root, cleanup = testutil.TempDir(t)
	marker = filepath.Join(root, ".ddb")
	if err := os.Mkdir(marker, 0755); err != nil {
		cleanup()
		t.Fatalf("failed to create marker dir: %v", err)
	}
	return root, marker, cleanup
}

func readHolder(t *testing.T, marker string) *LockInfo {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(marker, LockFileName))
	if err != nil {
		t.Fatalf("lock file unreadable: %v", err)
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		t.Fatalf("lock file is not JSON: %v", err)
	}
	return &info
}

func TestNewFileLock_Errors(t *testing.T) {
	root, _, cleanup := catalogRoot(t)
	defer cleanup()
	file := testutil.CreateTestFile(t, root, "cloud.las", []byte("LASF"))

	tests := []struct {
		name string
		dir  string
	}{
		{"empty", ""},
		{"not initialized", filepath.Join(root, "sub", ".ddb")},
		{"file", file},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewFileLock(tt.dir); err == nil {
				t.Errorf("NewFileLock(%q) should fail", tt.dir)
			}
		})
	}
}

// TestFileLock_Lifecycle tests that the lock file records the operation
// holding the catalog and disappears on release
func TestFileLock_Lifecycle(t *testing.T) {
	_, marker, cleanup := catalogRoot(t)
	defer cleanup()

	l, err := NewFileLock(marker)
	if err != nil {
		t.Fatalf("NewFileLock failed: %v", err)
	}
	if l.IsLocked() {
		t.Fatal("fresh catalog should not be locked")
	}
	if err := l.Acquire("add"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	info := readHolder(t, marker)
	if info.PID != os.Getpid() || info.Operation != "add" {
		t.Errorf("holder = %+v", info)
	}
	holder, err := l.GetHolder()
	if err != nil || holder.Operation != "add" {
		t.Errorf("GetHolder = %+v, %v", holder, err)
	}

	// the same handle moves on to the next operation without releasing
	if err := l.Acquire("meta set"); err != nil {
		t.Fatalf("re-Acquire failed: %v", err)
	}
	if op := readHolder(t, marker).Operation; op != "meta set" {
		t.Errorf("operation = %q, want meta set", op)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(marker, LockFileName)); !os.IsNotExist(err) {
		t.Error("lock file left behind")
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release failed: %v", err)
	}
}

// TestFileLock_SecondHandle tests that another handle of the same catalog
// is refused while a writer holds it
func TestFileLock_SecondHandle(t *testing.T) {
	_, marker, cleanup := catalogRoot(t)
	defer cleanup()

	first, _ := NewFileLock(marker)
	second, _ := NewFileLock(marker)
	if err := first.Acquire("build"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer first.Release()

	err := second.Acquire("remove")
	if !IsLockError(err) {
		t.Fatalf("expected LockError, got %v", err)
	}
	var le *LockError
	if !errors.As(err, &le) || le.Holder == nil || le.Holder.Operation != "build" {
		t.Errorf("lock error should name the holder: %+v", le)
	}

	// releasing through the wrong handle leaves the holder alone
	if err := second.Release(); err != nil {
		t.Errorf("Release of an unheld handle failed: %v", err)
	}
	if !first.IsLocked() {
		t.Error("first handle lost the lock")
	}
}

// TestFileLock_Stale tests which lock files a writer may take over
func TestFileLock_Stale(t *testing.T) {
	hostname, _ := os.Hostname()
	foreign := "foreign-" + testutil.RandomString(8)

	tests := []struct {
		name  string
		info  LockInfo
		taken bool
	}{
		{"dead process", LockInfo{PID: 999999, Hostname: hostname, StartTime: time.Now()}, true},
		{"live process held for hours", LockInfo{PID: os.Getpid(), Hostname: hostname, StartTime: time.Now().Add(-3 * time.Hour)}, false},
		{"recent foreign host", LockInfo{PID: 12345, Hostname: foreign, StartTime: time.Now()}, false},
		{"old foreign host", LockInfo{PID: 12345, Hostname: foreign, StartTime: time.Now().Add(-time.Hour)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, marker, cleanup := catalogRoot(t)
			defer cleanup()

			l, _ := NewFileLock(marker)
			l.SetStaleTimeout(10 * time.Minute)
			info := tt.info
			info.Operation = "build"
			if err := l.writeLockInfo(&info); err != nil {
				t.Fatalf("failed to write lock file: %v", err)
			}

			err := l.Acquire("add")
			if tt.taken {
				if err != nil {
					t.Fatalf("stale lock should be taken over: %v", err)
				}
				if got := readHolder(t, marker); got.PID != os.Getpid() || got.Operation != "add" {
					t.Errorf("holder after takeover = %+v", got)
				}
				l.Release()
				return
			}
			if !IsLockError(err) {
				t.Errorf("live lock should be refused, got %v", err)
			}
		})
	}
}

// TestFileLock_ConcurrentAcquire tests that exactly one of many handles
// racing for a fresh catalog wins
func TestFileLock_ConcurrentAcquire(t *testing.T) {
	_, marker, cleanup := catalogRoot(t)
	defer cleanup()

	const n = 10
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		won    []*FileLock
		others int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, _ := NewFileLock(marker)
			err := l.Acquire("add")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won = append(won, l)
			case IsLockError(err):
				others++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(won) != 1 || others != n-1 {
		t.Fatalf("%d winners, %d refused", len(won), others)
	}
	won[0].Release()
}

func TestFileLock_ForceRelease(t *testing.T) {
	_, marker, cleanup := catalogRoot(t)
	defer cleanup()

	crashed, _ := NewFileLock(marker)
	if err := crashed.Acquire("build"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	l, _ := NewFileLock(marker)
	if err := l.ForceRelease(); err != nil {
		t.Fatalf("ForceRelease failed: %v", err)
	}
	if err := l.Acquire("add"); err != nil {
		t.Fatalf("Acquire after ForceRelease failed: %v", err)
	}
	defer l.Release()

	if err := crashed.Release(); err == nil {
		t.Error("releasing a taken over lock should report it")
	}
}

func TestAcquireContext_WaitsForRelease(t *testing.T) {
	_, marker, cleanup := catalogRoot(t)
	defer cleanup()

	holder, _ := NewFileLock(marker)
	if err := holder.Acquire("build"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	waiter, _ := NewFileLock(marker)
	waiter.SetRetryInterval(5 * time.Millisecond)
	done := make(chan error, 1)
	go func() {
		done <- waiter.AcquireContext(context.Background(), "add")
	}()

	time.Sleep(30 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("waiter should block while the build runs, got %v", err)
	default:
	}

	if err := holder.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("AcquireContext failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never acquired the lock")
	}
	waiter.Release()
}

func TestAcquireContext_Cancelled(t *testing.T) {
	_, marker, cleanup := catalogRoot(t)
	defer cleanup()

	holder, _ := NewFileLock(marker)
	if err := holder.Acquire("build"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer holder.Release()

	waiter, _ := NewFileLock(marker)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := waiter.AcquireContext(ctx, "add")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

// TestRegistry_WritersSerialized tests that writers of one root never overlap
func TestRegistry_WritersSerialized(t *testing.T) {
	root, marker, cleanup := catalogRoot(t)
	defer cleanup()
	reg := NewRegistry()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		overlap bool
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := reg.Lock(context.Background(), root, marker, "add")
			if err != nil {
				t.Errorf("Lock failed: %v", err)
				return
			}
			mu.Lock()
			active++
			if active > 1 {
				overlap = true
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			if err := unlock(); err != nil {
				t.Errorf("unlock failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if overlap {
		t.Error("two writers held the lock at once")
	}
	if _, err := os.Stat(filepath.Join(marker, LockFileName)); !os.IsNotExist(err) {
		t.Error("lock file left behind")
	}
}

// TestRegistry_LockFileWhileHeld tests that a writer is visible to other
// processes through the lock file in the marker directory
func TestRegistry_LockFileWhileHeld(t *testing.T) {
	root, marker, cleanup := catalogRoot(t)
	defer cleanup()
	reg := NewRegistry()

	unlock, err := reg.Lock(context.Background(), root, marker, "build")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if op := readHolder(t, marker).Operation; op != "build" {
		t.Errorf("operation = %q, want build", op)
	}

	// a writer of another process sees the lock file
	other, _ := NewFileLock(marker)
	if !other.IsLocked() {
		t.Error("lock file should be held")
	}

	if err := unlock(); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if other.IsLocked() {
		t.Error("lock file should be gone")
	}
	// a second call is a no-op
	if err := unlock(); err != nil {
		t.Errorf("second unlock failed: %v", err)
	}
}

// TestRegistry_ForeignWriter tests that an in-process writer waits for the
// lock file of another process and gives up with its context
func TestRegistry_ForeignWriter(t *testing.T) {
	root, marker, cleanup := catalogRoot(t)
	defer cleanup()
	reg := NewRegistry()

	foreign, _ := NewFileLock(marker)
	if err := foreign.Acquire("build"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	// the foreign holder looks alive: same host, this pid, another instance
	defer foreign.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	if _, err := reg.Lock(ctx, root, marker, "add"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	// the failed attempt released the in-process lock
	r, err := reg.RLock(context.Background(), root)
	if err != nil {
		t.Fatalf("RLock after failed Lock: %v", err)
	}
	r()
}

// TestRegistry_ReadersShare tests that readers run together but wait for
// a writer
func TestRegistry_ReadersShare(t *testing.T) {
	root, marker, cleanup := catalogRoot(t)
	defer cleanup()
	reg := NewRegistry()
	ctx := context.Background()

	r1, err := reg.RLock(ctx, root)
	if err != nil {
		t.Fatalf("RLock failed: %v", err)
	}
	r2, err := reg.RLock(ctx, root)
	if err != nil {
		t.Fatalf("second RLock failed: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if _, err := reg.Lock(short, root, marker, "add"); err == nil {
		t.Fatal("writer should wait for readers")
	}

	r1()
	r2()

	// trailing separators name the same root
	unlock, err := reg.Lock(ctx, root+string(filepath.Separator), marker, "add")
	if err != nil {
		t.Fatalf("Lock after readers left failed: %v", err)
	}
	unlock()
}

// TestRegistry_RootsIndependent tests that different catalogs do not block
func TestRegistry_RootsIndependent(t *testing.T) {
	a, markerA, cleanupA := catalogRoot(t)
	defer cleanupA()
	b, markerB, cleanupB := catalogRoot(t)
	defer cleanupB()
	reg := NewRegistry()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	unlockA, err := reg.Lock(ctx, a, markerA, "add")
	if err != nil {
		t.Fatalf("Lock(a) failed: %v", err)
	}
	defer unlockA()

	unlockB, err := reg.Lock(ctx, b, markerB, "add")
	if err != nil {
		t.Fatalf("Lock(b) failed while a was held: %v", err)
	}
	unlockB()
}
