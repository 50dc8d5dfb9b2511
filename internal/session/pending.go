package session

import "sync"

// PendingRegistry tracks at most one outstanding PendingQuestion and one
// PendingPermission per (chatId, threadId) key (§3.2, §4.9, invariant P4).
// Writes happen from two owners — the event-consumer task on agent events,
// the command router on callbacks/replies — so the registry protects
// itself with a mutex (§5 "implementations must protect them if they use
// parallel threads").
type PendingRegistry struct {
	mu          sync.Mutex
	questions   map[Key]*PendingQuestion
	permissions map[Key]*PendingPermission
}

// NewPendingRegistry returns an empty registry.
func NewPendingRegistry() *PendingRegistry {
	return &PendingRegistry{
		questions:   make(map[Key]*PendingQuestion),
		permissions: make(map[Key]*PendingPermission),
	}
}

// SetQuestion installs a new PendingQuestion for key, replacing (and
// logically cancelling) any prior one. The caller is responsible for
// issuing question.reject against the replaced record first if needed.
func (r *PendingRegistry) SetQuestion(key Key, q *PendingQuestion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.questions[key] = q
}

// Question returns the outstanding question for key, if any.
func (r *PendingRegistry) Question(key Key) (*PendingQuestion, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.questions[key]
	return q, ok
}

// ClearQuestion removes the outstanding question for key.
func (r *PendingRegistry) ClearQuestion(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.questions, key)
}

// SetPermission installs a new PendingPermission for key, replacing any
// prior one.
func (r *PendingRegistry) SetPermission(key Key, p *PendingPermission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.permissions[key] = p
}

// Permission returns the outstanding permission prompt for key, if any.
func (r *PendingRegistry) Permission(key Key) (*PendingPermission, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.permissions[key]
	return p, ok
}

// ClearPermission removes the outstanding permission prompt for key.
func (r *PendingRegistry) ClearPermission(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.permissions, key)
}

// HasAny reports whether key has an outstanding question or permission,
// used by the router's cancellation step (§4.7 classification step 2).
func (r *PendingRegistry) HasAny(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, hasQ := r.questions[key]
	_, hasP := r.permissions[key]
	return hasQ || hasP
}
