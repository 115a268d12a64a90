package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRotatingFileWriter(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "harvest.log")

	if err := os.WriteFile(logFile, []byte("existing\n"), 0600); err != nil {
		t.Fatalf("Failed to seed log file: %v", err)
	}

	writer, err := NewRotatingFileWriter(logFile, 1024, 3)
	if err != nil {
		t.Fatalf("NewRotatingFileWriter failed: %v", err)
	}
	defer writer.Close()

	if writer.size != int64(len("existing\n")) {
		t.Errorf("size = %d, want existing file size", writer.size)
	}

	if _, err := NewRotatingFileWriter(logFile, 0, 3); err == nil {
		t.Error("Expected error for zero max size")
	}
}

func TestRotatingFileWriter_Rotation(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "harvest.log")

	writer, err := NewRotatingFileWriter(logFile, 50, 3)
	if err != nil {
		t.Fatalf("NewRotatingFileWriter failed: %v", err)
	}
	defer writer.Close()

	firstMsg := strings.Repeat("A", 30) + "\n"
	secondMsg := strings.Repeat("B", 30) + "\n"

	if _, err := writer.Write([]byte(firstMsg)); err != nil {
		t.Fatalf("First write failed: %v", err)
	}
	if _, err := writer.Write([]byte(secondMsg)); err != nil {
		t.Fatalf("Second write failed: %v", err)
	}

	content, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if string(content) != secondMsg {
		t.Errorf("Current log content = %q, want %q", string(content), secondMsg)
	}

	backup, err := os.ReadFile(filepath.Join(tmpDir, "harvest.1.log"))
	if err != nil {
		t.Fatalf("Backup file was not created: %v", err)
	}
	if string(backup) != firstMsg {
		t.Errorf("Backup content = %q, want %q", string(backup), firstMsg)
	}
}

func TestRotatingFileWriter_MaxBackups(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "harvest.log")

	writer, err := NewRotatingFileWriter(logFile, 10, 2)
	if err != nil {
		t.Fatalf("NewRotatingFileWriter failed: %v", err)
	}
	defer writer.Close()

	for _, msg := range []string{"one......\n", "two......\n", "three....\n", "four.....\n"} {
		if _, err := writer.Write([]byte(msg)); err != nil {
			t.Fatalf("Write %q failed: %v", msg, err)
		}
	}

	want := map[string]string{
		"harvest.log":   "four.....\n",
		"harvest.1.log": "three....\n",
		"harvest.2.log": "two......\n",
	}
	files, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("Failed to read directory: %v", err)
	}
	if len(files) != len(want) {
		t.Errorf("Found %d files, want %d", len(files), len(want))
	}
	for name, content := range want {
		got, err := os.ReadFile(filepath.Join(tmpDir, name))
		if err != nil {
			t.Errorf("Missing %s: %v", name, err)
			continue
		}
		if string(got) != content {
			t.Errorf("%s = %q, want %q", name, got, content)
		}
	}
}

func TestRotatingFileWriter_NoBackups(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "harvest.log")

	writer, err := NewRotatingFileWriter(logFile, 10, 0)
	if err != nil {
		t.Fatalf("NewRotatingFileWriter failed: %v", err)
	}
	defer writer.Close()

	_, _ = writer.Write([]byte("first....\n"))
	_, _ = writer.Write([]byte("second...\n"))

	files, _ := os.ReadDir(tmpDir)
	if len(files) != 1 {
		t.Errorf("Found %d files, want only the current log", len(files))
	}
}

func TestRotatingFileWriter_BackupName(t *testing.T) {
	tmpDir := t.TempDir()
	writer, err := NewRotatingFileWriter(filepath.Join(tmpDir, "app.log"), 1024, 3)
	if err != nil {
		t.Fatalf("NewRotatingFileWriter failed: %v", err)
	}
	defer writer.Close()

	if got, want := writer.backupName(2), filepath.Join(tmpDir, "app.2.log"); got != want {
		t.Errorf("backupName(2) = %q, want %q", got, want)
	}
}
