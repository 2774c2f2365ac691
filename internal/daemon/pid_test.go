package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/tessro/tinymon/internal/paths"
)

func TestDefaultPIDPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(paths.EnvPIDPath, "")
	t.Setenv(paths.EnvDir, dir)

	want := filepath.Join(dir, "tinymon.pid")
	if got := DefaultPIDPath(); got != want {
		t.Errorf("DefaultPIDPath() = %s, want %s", got, want)
	}
}

func TestWriteReadPID(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")

	if err := WritePID(pidPath); err != nil {
		t.Fatalf("WritePID: %v", err)
	}

	pid, err := ReadPID(pidPath)
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("ReadPID() = %d, want %d", pid, os.Getpid())
	}
}

func TestWritePID_CreatesDirectory(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.pid")

	if err := WritePID(pidPath); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	if _, err := os.Stat(pidPath); os.IsNotExist(err) {
		t.Error("PID file was not created")
	}
}

func TestWritePID_AlreadyRunning(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")

	// PID 1 is always alive.
	if err := os.WriteFile(pidPath, []byte("1\n"), 0600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	err := WritePID(pidPath)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("WritePID() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestWritePID_ReplacesStale(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")
	if err := os.WriteFile(pidPath, []byte("999999999\n"), 0600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if IsProcessRunning(999999999) {
		t.Skip("unexpectedly high PID exists")
	}

	if err := WritePID(pidPath); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	if pid, _ := ReadPID(pidPath); pid != os.Getpid() {
		t.Errorf("ReadPID() = %d, want %d", pid, os.Getpid())
	}
}

func TestReadPID_NotExists(t *testing.T) {
	_, err := ReadPID("/nonexistent/path/test.pid")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
	if !os.IsNotExist(err) {
		t.Errorf("expected IsNotExist error, got %v", err)
	}
}

func TestReadPID_InvalidContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not a number", "not-a-number\n"},
		{"zero", "0\n"},
		{"negative", "-5\n"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pidPath := filepath.Join(t.TempDir(), "test.pid")
			if err := os.WriteFile(pidPath, []byte(tt.content), 0600); err != nil {
				t.Fatalf("write file: %v", err)
			}
			if _, err := ReadPID(pidPath); err == nil {
				t.Error("expected error for invalid PID content")
			}
		})
	}
}

func TestRemovePID(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")

	if err := WritePID(pidPath); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	if err := RemovePID(pidPath); err != nil {
		t.Fatalf("RemovePID: %v", err)
	}
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Error("PID file still exists after RemovePID")
	}
}

func TestRemovePID_OtherOwner(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")
	if err := os.WriteFile(pidPath, []byte("1\n"), 0600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if err := RemovePID(pidPath); err != nil {
		t.Fatalf("RemovePID: %v", err)
	}
	if _, err := os.Stat(pidPath); err != nil {
		t.Error("PID file owned by another process was removed")
	}
}

func TestRemovePID_NotExists(t *testing.T) {
	if err := RemovePID("/nonexistent/path/test.pid"); err != nil {
		t.Errorf("RemovePID should not error for nonexistent file: %v", err)
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !IsProcessRunning(os.Getpid()) {
		t.Error("current process should be running")
	}
	if IsProcessRunning(0) {
		t.Error("PID 0 should not be running")
	}
	if IsProcessRunning(-1) {
		t.Error("PID -1 should not be running")
	}
	if IsProcessRunning(999999999) {
		t.Skip("unexpectedly high PID exists")
	}
}

func TestIsRunning(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")

	t.Run("no pid file", func(t *testing.T) {
		running, pid := IsRunning(pidPath)
		if running {
			t.Error("should not be running without PID file")
		}
		if pid != 0 {
			t.Errorf("pid should be 0, got %d", pid)
		}
	})

	t.Run("valid running process", func(t *testing.T) {
		if err := WritePID(pidPath); err != nil {
			t.Fatalf("WritePID: %v", err)
		}

		running, pid := IsRunning(pidPath)
		if !running {
			t.Error("should be running with valid PID file")
		}
		if pid != os.Getpid() {
			t.Errorf("pid = %d, want %d", pid, os.Getpid())
		}
	})

	t.Run("stale pid file", func(t *testing.T) {
		stalePID := 999999999
		if err := os.WriteFile(pidPath, []byte(strconv.Itoa(stalePID)+"\n"), 0600); err != nil {
			t.Fatalf("write file: %v", err)
		}

		running, pid := IsRunning(pidPath)
		if running {
			t.Skip("unexpectedly high PID exists")
		}
		if pid != 0 {
			t.Errorf("pid should be 0 for stale file, got %d", pid)
		}
	})
}

func TestCleanStalePID(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")

	t.Run("cleans stale pid", func(t *testing.T) {
		if err := os.WriteFile(pidPath, []byte("999999999\n"), 0600); err != nil {
			t.Fatalf("write file: %v", err)
		}

		if !CleanStalePID(pidPath) {
			t.Error("should have cleaned stale PID")
		}
		if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
			t.Error("stale PID file should be removed")
		}
	})

	t.Run("does not clean running process", func(t *testing.T) {
		if err := WritePID(pidPath); err != nil {
			t.Fatalf("WritePID: %v", err)
		}

		if CleanStalePID(pidPath) {
			t.Error("should not clean PID of running process")
		}
		if _, err := os.Stat(pidPath); os.IsNotExist(err) {
			t.Error("PID file should still exist")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if CleanStalePID(filepath.Join(t.TempDir(), "none.pid")) {
			t.Error("nothing to clean")
		}
	})
}
