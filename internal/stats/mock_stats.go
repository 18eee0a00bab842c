package stats

import "github.com/stretchr/testify/mock"

var _ StatsProvider = (*MockStatsUpdater)(nil)

type MockStatsUpdater struct {
	mock.Mock
}

// NewMockStatsUpdater returns a mock that accepts any counter update.
// Tests asserting on specific metrics should set their own expectations.
func NewMockStatsUpdater() *MockStatsUpdater {
	m := &MockStatsUpdater{}
	m.On("Incr", mock.Anything).Maybe()
	m.On("Decr", mock.Anything).Maybe()
	return m
}

func (m *MockStatsUpdater) Incr(name string) {
	m.Called(name)
}

func (m *MockStatsUpdater) Decr(name string) {
	m.Called(name)
}

func (m *MockStatsUpdater) RegisterMetric(name string) {
	m.Called(name)
}

func (m *MockStatsUpdater) Run() {
	m.Called()
}
