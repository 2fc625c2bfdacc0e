package sandbox

import (
	"github.com/p-arndt/chainsandbox/internal/store"
	"github.com/stretchr/testify/mock"
)

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) CreateSandbox(sb *store.Sandbox) error {
	args := m.Called(sb)
	return args.Error(0)
}

func (m *MockLedger) UpdateSandboxStatus(id, status string) error {
	args := m.Called(id, status)
	return args.Error(0)
}

func (m *MockLedger) RecordProcess(p *store.Process) error {
	args := m.Called(p)
	return args.Error(0)
}

func (m *MockLedger) FinishProcess(id, status string, exitCode int) error {
	args := m.Called(id, status, exitCode)
	return args.Error(0)
}
