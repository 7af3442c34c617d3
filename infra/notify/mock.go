package notify

import (
	"fmt"
	"sync"

	"github.com/rescuegrid/rescuegrid/core/model"
)

// MockNotifier records delivered events, for tests.
type MockNotifier struct {
	mu     sync.Mutex
	events []model.Event
	Fail   bool
}

// NewMockNotifier creates a new MockNotifier.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

// Notify records the event or fails when configured to.
func (m *MockNotifier) Notify(ev model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return fmt.Errorf("notify failed")
	}
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of the delivered events.
func (m *MockNotifier) Events() []model.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Event, len(m.events))
	copy(out, m.events)
	return out
}
