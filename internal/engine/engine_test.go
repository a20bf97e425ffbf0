package engine

import (
	"context"
	"sync"
	"time"

	"forwarder/internal/models"
)

type bulkCall struct {
	ids     []int64
	from    string
	to      string
	nextDue *time.Time
}

// fakeStore is an in-memory TaskStore that records mutations for assertions.
type fakeStore struct {
	mu        sync.Mutex
	tasks     map[int64]*models.Task
	results   []models.RunResult
	bulkCalls []bulkCall
	deleted   [][]int64
	filters   []models.TaskFilter
	stats     *models.Stats

	getErr  error
	listErr error
	updErr  error

	// afterList fires once the listing is returned, outside the lock.
	afterList func()
}

func newFakeStore(tasks ...*models.Task) *fakeStore {
	s := &fakeStore{tasks: make(map[int64]*models.Task)}
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
	return s
}

func (s *fakeStore) CreateTask(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return nil
}

func (s *fakeStore) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	task, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	copied := *task
	return &copied, nil
}

func (s *fakeStore) ListDueTasks(ctx context.Context, now time.Time) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var due []*models.Task
	for _, task := range s.tasks {
		if task.Status == models.StatusActive && !task.NextDue.After(now) {
			copied := *task
			due = append(due, &copied)
		}
	}
	return due, nil
}

func (s *fakeStore) ListTasks(ctx context.Context, filter models.TaskFilter) ([]*models.Task, error) {
	s.mu.Lock()
	s.filters = append(s.filters, filter)
	if s.listErr != nil {
		s.mu.Unlock()
		return nil, s.listErr
	}
	var out []*models.Task
	for _, task := range s.tasks {
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.ClientID != "" && task.ClientID != filter.ClientID {
			continue
		}
		copied := *task
		out = append(out, &copied)
	}
	hook := s.afterList
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return out, nil
}

func (s *fakeStore) UpdateAfterRun(ctx context.Context, result models.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updErr != nil {
		return s.updErr
	}
	s.results = append(s.results, result)
	if task, ok := s.tasks[result.TaskID]; ok {
		task.Status = result.Status
		task.NextDue = result.NextDue
		task.ConsecutiveFailures = result.ConsecutiveFailures
		task.TotalRuns++
		if result.Succeeded {
			task.SuccessfulRuns++
		} else {
			task.FailedRuns++
		}
	}
	return nil
}

func (s *fakeStore) BulkUpdateStatus(ctx context.Context, ids []int64, from, to string, nextDue *time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulkCalls = append(s.bulkCalls, bulkCall{ids: ids, from: from, to: to, nextDue: nextDue})
	var affected int64
	for _, id := range ids {
		task, ok := s.tasks[id]
		if !ok || task.Status != from {
			continue
		}
		task.Status = to
		if nextDue != nil {
			task.NextDue = *nextDue
		}
		affected++
	}
	return affected, nil
}

func (s *fakeStore) DeleteTasks(ctx context.Context, ids []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, ids)
	for _, id := range ids {
		delete(s.tasks, id)
	}
	return int64(len(ids)), nil
}

func (s *fakeStore) TaskStats(ctx context.Context, filter models.TaskFilter) (*models.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stats != nil {
		return s.stats, nil
	}
	return &models.Stats{}, nil
}

func (s *fakeStore) runResults() []models.RunResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.RunResult(nil), s.results...)
}

// fakeSender records every forward call and replays a scripted response.
type fakeSender struct {
	mu    sync.Mutex
	calls []string
	fn    func(phone, link string) error
}

func (s *fakeSender) Forward(ctx context.Context, phone, link string, target models.Target) (time.Duration, error) {
	s.mu.Lock()
	s.calls = append(s.calls, link)
	fn := s.fn
	s.mu.Unlock()
	if fn != nil {
		if err := fn(phone, link); err != nil {
			return 0, err
		}
	}
	return 10 * time.Millisecond, nil
}

func (s *fakeSender) callLinks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// fakeRegistry counts health signals per userbot phone.
type fakeRegistry struct {
	mu       sync.Mutex
	failures map[string]int
	resets   map[string]int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{failures: make(map[string]int), resets: make(map[string]int)}
}

func (r *fakeRegistry) GetUserbot(ctx context.Context, phone string) (*models.Userbot, error) {
	return &models.Userbot{Phone: phone, Status: models.UserbotActive}, nil
}

func (r *fakeRegistry) ListUserbots(ctx context.Context) ([]*models.Userbot, error) {
	return nil, nil
}

func (r *fakeRegistry) RecordUserbotFailure(ctx context.Context, phone string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[phone]++
	return nil
}

func (r *fakeRegistry) ResetUserbotFailures(ctx context.Context, phone string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets[phone]++
	return nil
}

// fakeAudit captures the audit trail.
type fakeAudit struct {
	mu      sync.Mutex
	actions []*models.AdminAction
	events  []*models.EventRecord
}

func (a *fakeAudit) LogAdminAction(ctx context.Context, action *models.AdminAction) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
	return nil
}

func (a *fakeAudit) LogEvent(ctx context.Context, record *models.EventRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, record)
	return nil
}

func activeTask(id int64, phone string) *models.Task {
	return &models.Task{
		ID:              id,
		Name:            "task",
		ClientID:        "client-1",
		UserbotPhone:    phone,
		MessageLink:     "https://t.me/source/100",
		SendToAllGroups: true,
		StartTime:       time.Now().Add(-time.Hour),
		Interval:        10 * time.Minute,
		NextDue:         time.Now().Add(-time.Minute),
		Status:          models.StatusActive,
	}
}
