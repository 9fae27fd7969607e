package queue

import (
	"context"
	"sync"
	"time"
)

// Published is one captured Publish call.
type Published struct {
	Job   Job
	Delay time.Duration
}

// Memory captures published jobs in order. Used in tests and one-shot CLI runs.
type Memory struct {
	mu   sync.Mutex
	jobs []Published
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Publish(_ context.Context, job Job, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, Published{Job: job, Delay: delay})
	return nil
}

func (m *Memory) Shutdown(context.Context) {}

// Jobs returns a copy of everything published so far.
func (m *Memory) Jobs() []Published {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Published, len(m.jobs))
	copy(out, m.jobs)
	return out
}
