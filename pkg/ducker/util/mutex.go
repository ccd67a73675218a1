package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// lockDirectory prefers the per-user runtime dir so that two users on the
// same machine don't block each other
func lockDirectory() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}

	return os.TempDir()
}

// CreateMutex makes sure only one instance is driving the same audio server.
// Two duckers fighting over the same stream would make its volume flap.
func CreateMutex(name string) error {
	lockFile := filepath.Join(lockDirectory(), name+".lock")
	currentPid := os.Getpid()

	lockContent, err := os.ReadFile(lockFile)
	if err == nil {
		content := strings.TrimSpace(string(lockContent))
		if len(content) > 0 && content != strconv.Itoa(currentPid) {
			lockProcessId, _ := strconv.Atoi(content)
			process, err := os.FindProcess(lockProcessId)
			if err == nil && lockProcessId > 0 {
				if pSignal := process.Signal(syscall.Signal(0)); pSignal == nil {
					return fmt.Errorf("another instance of %s is running (pid %d)", name, lockProcessId)
				}
			}
		}
	}

	f, err := os.OpenFile(lockFile, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0664)
	if err != nil {
		return fmt.Errorf("cannot instantiate mutex: %w", err)
	}
	defer f.Close()

	if _, err = f.WriteString(strconv.Itoa(currentPid)); err != nil {
		return fmt.Errorf("cannot instantiate mutex: %w", err)
	}

	return nil
}

// ReleaseMutex removes the lock file created by CreateMutex
func ReleaseMutex(name string) error {
	lockFile := filepath.Join(lockDirectory(), name+".lock")

	if err := os.Remove(lockFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}

	return nil
}
