package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/LeventeLantos/push-dispatch/internal/model"
	"github.com/LeventeLantos/push-dispatch/internal/repo"
)

// gatewayErr mimics the coded error a push gateway client returns.
type gatewayErr struct {
	code   string
	status int
}

func (e *gatewayErr) Error() string     { return fmt.Sprintf("gateway status=%d code=%s", e.status, e.code) }
func (e *gatewayErr) ErrorCode() string { return e.code }
func (e *gatewayErr) HTTPStatus() int   { return e.status }

var errUnregistered = &gatewayErr{code: "UNREGISTERED", status: 404}

type fakeGateway struct {
	mu       sync.Mutex
	attempts []string
	// per-token behavior; tokens not listed succeed.
	behavior map[string]func(ctx context.Context) (string, error)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{behavior: map[string]func(context.Context) (string, error){}}
}

func (g *fakeGateway) on(token string, fn func(ctx context.Context) (string, error)) *fakeGateway {
	g.behavior[token] = fn
	return g
}

func (g *fakeGateway) fail(token string, err error) *fakeGateway {
	return g.on(token, func(context.Context) (string, error) { return "", err })
}

func (g *fakeGateway) Send(ctx context.Context, token string, _ model.Payload) (string, error) {
	g.mu.Lock()
	g.attempts = append(g.attempts, token)
	fn := g.behavior[token]
	g.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return "msg-" + token, nil
}

func (g *fakeGateway) Attempts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.attempts...)
}

type fakeRegistry struct {
	mu        sync.Mutex
	tokens    map[string]map[string]struct{}
	deletes   int
	deleteErr func(token string, call int) error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{tokens: map[string]map[string]struct{}{}}
}

func (r *fakeRegistry) ListTokens(_ context.Context, userID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for t := range r.tokens[userID] {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

func (r *fakeRegistry) RegisterToken(_ context.Context, userID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tokens[userID] == nil {
		r.tokens[userID] = map[string]struct{}{}
	}
	r.tokens[userID][token] = struct{}{}
	return nil
}

func (r *fakeRegistry) DeleteToken(_ context.Context, userID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes++
	if r.deleteErr != nil {
		if err := r.deleteErr(token, r.deletes); err != nil {
			return err
		}
	}
	delete(r.tokens[userID], token)
	return nil
}

func (r *fakeRegistry) has(userID, token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tokens[userID][token]
	return ok
}

// memRepo is an in-memory RequestRepository whose claim is atomic under a
// mutex, like the conditional UPDATE of the SQL stores.
type memRepo struct {
	mu       sync.Mutex
	requests map[string]*model.NotificationRequest
	writes   int
	claimErr error
}

func newMemRepo() *memRepo {
	return &memRepo{requests: map[string]*model.NotificationRequest{}}
}

func (m *memRepo) put(req model.NotificationRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := req
	m.requests[r.ID] = &r
}

func (m *memRepo) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *memRepo) Create(_ context.Context, req *model.NotificationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[req.ID]; ok {
		return errors.New("duplicate id")
	}
	m.writes++
	r := *req
	m.requests[r.ID] = &r
	return nil
}

func (m *memRepo) Get(_ context.Context, id string) (*model.NotificationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRepo) ClaimDue(_ context.Context, now time.Time, limit int) ([]model.NotificationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return nil, m.claimErr
	}

	var due []*model.NotificationRequest
	for _, r := range m.requests {
		if r.Status == model.Pending && !r.ScheduledTime.After(now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledTime.Before(due[j].ScheduledTime) })
	if len(due) > limit {
		due = due[:limit]
	}
	if len(due) == 0 {
		return nil, nil
	}

	m.writes++
	out := make([]model.NotificationRequest, 0, len(due))
	for _, r := range due {
		at := now
		r.Status = model.Processing
		r.ProcessStartTime = &at
		out = append(out, *r)
	}
	return out, nil
}

func (m *memRepo) MarkCompleted(_ context.Context, id string, success, failure int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.Status != model.Processing {
		return repo.ErrNotProcessing
	}
	m.writes++
	r.Status = model.Completed
	r.CompletedAt = &at
	r.SuccessCount = success
	r.FailureCount = failure
	return nil
}

func (m *memRepo) MarkFailed(_ context.Context, id string, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.Status != model.Processing {
		return repo.ErrNotProcessing
	}
	m.writes++
	r.Status = model.Failed
	r.FailedAt = &at
	r.Error = reason
	return nil
}

func (m *memRepo) ListByStatus(_ context.Context, status model.Status, limit, offset int) ([]model.NotificationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.NotificationRequest
	for _, r := range m.requests {
		if r.Status == status {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memRepo) ListStuck(_ context.Context, startedBefore time.Time, limit int) ([]model.NotificationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.NotificationRequest
	for _, r := range m.requests {
		if r.Status == model.Processing && r.ProcessStartTime != nil && r.ProcessStartTime.Before(startedBefore) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memCache struct {
	mu     sync.Mutex
	stored map[string]model.NotificationRequest
}

func (c *memCache) StoreFinal(_ context.Context, req model.NotificationRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stored == nil {
		c.stored = map[string]model.NotificationRequest{}
	}
	c.stored[req.ID] = req
	return nil
}

func (c *memCache) GetFinal(_ context.Context, id string) (*model.NotificationRequest, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.stored[id]
	if !ok {
		return nil, false, nil
	}
	return &r, true, nil
}
