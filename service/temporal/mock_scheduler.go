package temporal

import (
	"context"
	"sync"
	"time"
)

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu        sync.Mutex
	schedules map[string]time.Duration // map[scheduleID]interval
	upsertErr error
	deleteErr error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		schedules: make(map[string]time.Duration),
	}
}

// UpsertSyncSchedule records that the sync schedule was created or updated.
func (m *MockScheduler) UpsertSyncSchedule(ctx context.Context, interval time.Duration) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[syncScheduleID] = interval
	return nil
}

// DeleteSyncSchedule removes the recorded schedule.
func (m *MockScheduler) DeleteSyncSchedule(ctx context.Context) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.schedules, syncScheduleID)
	return nil
}

// ScheduleInterval returns the recorded interval and whether the schedule exists.
func (m *MockScheduler) ScheduleInterval() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	interval, ok := m.schedules[syncScheduleID]
	return interval, ok
}

// SetUpsertError configures the mock to fail upserts.
func (m *MockScheduler) SetUpsertError(err error) {
	m.upsertErr = err
}

// SetDeleteError configures the mock to fail deletes.
func (m *MockScheduler) SetDeleteError(err error) {
	m.deleteErr = err
}
