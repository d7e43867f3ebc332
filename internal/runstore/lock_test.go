package runstore

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestAcquireSessionLock_BlocksConcurrentAcquire(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireSessionLock(dir)
	if err != nil {
		t.Fatalf("acquire first lock: %v", err)
	}
	defer func() {
		_ = lock.Release()
	}()

	if _, err := AcquireSessionLock(dir); err == nil {
		t.Fatalf("expected second acquire to fail")
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("release lock: %v", err)
	}

	lock2, err := AcquireSessionLock(dir)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if err := lock2.Release(); err != nil {
		t.Fatalf("release second lock: %v", err)
	}
}

func TestAcquireSessionLock_OwnerFileLifecycle(t *testing.T) {
	dir := t.TempDir()
	ownerPath := filepath.Join(dir, lockOwnerFile)

	lock, err := AcquireSessionLock(dir)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	var owner lockOwner
	if err := ReadJSON(ownerPath, &owner); err != nil {
		t.Fatalf("read owner: %v", err)
	}
	if owner.PID != os.Getpid() || owner.CreatedAt == "" {
		t.Fatalf("unexpected owner: %+v", owner)
	}

	_, err = AcquireSessionLock(dir)
	if err == nil {
		t.Fatal("expected locked error")
	}
	if !strings.Contains(err.Error(), "pid="+strconv.Itoa(os.Getpid())) {
		t.Fatalf("expected owner pid in error, got %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(ownerPath); !os.IsNotExist(err) {
		t.Fatalf("expected owner file removed after release, stat err=%v", err)
	}
	// The flock target stays a plain file; nothing directory-shaped is left behind.
	info, err := os.Stat(filepath.Join(dir, LockFile))
	if err != nil {
		t.Fatalf("stat lock file: %v", err)
	}
	if info.IsDir() {
		t.Fatal("expected lock file, got a directory")
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("second release should be a no-op: %v", err)
	}

	again, err := AcquireSessionLock(dir)
	if err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
	defer func() {
		_ = again.Release()
	}()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.IsDir() {
			t.Fatalf("unexpected directory %q left in session dir", e.Name())
		}
	}
}
