package reaper

import (
	"github.com/p-arndt/chainsandbox/internal/store"
	"github.com/stretchr/testify/mock"
)

// MockReaperStore mocks the ReaperStore interface.
type MockReaperStore struct {
	mock.Mock
}

func (m *MockReaperStore) ListOpenSandboxes() ([]*store.Sandbox, error) {
	args := m.Called()
	if sandboxes := args.Get(0); sandboxes != nil {
		return sandboxes.([]*store.Sandbox), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockReaperStore) ListRunningProcesses(sandboxID string) ([]*store.Process, error) {
	args := m.Called(sandboxID)
	if procs := args.Get(0); procs != nil {
		return procs.([]*store.Process), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockReaperStore) FinishProcess(id string, status string, exitCode int) error {
	args := m.Called(id, status, exitCode)
	return args.Error(0)
}

func (m *MockReaperStore) UpdateSandboxStatus(id string, status string) error {
	args := m.Called(id, status)
	return args.Error(0)
}

// MockProcessTable mocks the ProcessTable interface.
type MockProcessTable struct {
	mock.Mock
}

func (m *MockProcessTable) Exists(pid int) (bool, error) {
	args := m.Called(pid)
	return args.Bool(0), args.Error(1)
}

func (m *MockProcessTable) Runs(pid int, executable string) (bool, error) {
	args := m.Called(pid, executable)
	return args.Bool(0), args.Error(1)
}

func (m *MockProcessTable) Kill(pid int) error {
	args := m.Called(pid)
	return args.Error(0)
}
