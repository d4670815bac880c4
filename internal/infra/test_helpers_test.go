package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// mockProcessManager is a test double for ProcessManager
type mockProcessManager struct {
	byExecutable map[string][]int
	killedPIDs   []int
	findErr      error
}

func newMockProcessManager() *mockProcessManager {
	return &mockProcessManager{
		byExecutable: make(map[string][]int),
	}
}

func (m *mockProcessManager) FindByExecutable(path string) ([]int, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.byExecutable[path], nil
}

func (m *mockProcessManager) Kill(pid int) error {
	m.killedPIDs = append(m.killedPIDs, pid)
	return nil
}

func (m *mockProcessManager) IsRunning(pid int) bool {
	return false
}

func (m *mockProcessManager) GetCurrentPID() int {
	return os.Getpid()
}

// writeScript creates an executable shell script in dir.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}
