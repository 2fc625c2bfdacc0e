package node

import (
	"github.com/stretchr/testify/mock"
)

// MockDirAllocator mocks the DirAllocator interface.
type MockDirAllocator struct {
	mock.Mock
}

func (m *MockDirAllocator) Create(prefix string) (string, error) {
	args := m.Called(prefix)
	return args.String(0), args.Error(1)
}

func (m *MockDirAllocator) Delete(dir string) error {
	args := m.Called(dir)
	return args.Error(0)
}
