package session

import (
	"sync"
	"testing"

	"github.com/agentdev/tg-agent-bridge/internal/agentclient"
)

func TestPendingRegistrySetReplacesPrior(t *testing.T) {
	r := NewPendingRegistry()
	key := Key{ChatID: 1, ThreadID: 0}

	r.SetQuestion(key, &PendingQuestion{RequestID: "first"})
	r.SetQuestion(key, &PendingQuestion{RequestID: "second"})

	q, ok := r.Question(key)
	if !ok || q.RequestID != "second" {
		t.Fatalf("expected second question to replace first, got %+v", q)
	}
}

func TestPendingRegistryHasAny(t *testing.T) {
	r := NewPendingRegistry()
	key := Key{ChatID: 1, ThreadID: 0}

	if r.HasAny(key) {
		t.Fatal("expected no pending interaction for an unused key")
	}

	r.SetQuestion(key, &PendingQuestion{RequestID: "q1"})
	if !r.HasAny(key) {
		t.Fatal("expected HasAny to report the question")
	}

	r.ClearQuestion(key)
	if r.HasAny(key) {
		t.Fatal("expected HasAny false after clearing the question")
	}

	r.SetPermission(key, &PendingPermission{RequestID: "p1"})
	if !r.HasAny(key) {
		t.Fatal("expected HasAny to report the permission")
	}
}

// TestPendingRegistryAtMostTwoPerKey exercises P4: a key may carry at most
// one PendingQuestion and one PendingPermission simultaneously, never more.
func TestPendingRegistryAtMostTwoPerKey(t *testing.T) {
	r := NewPendingRegistry()
	key := Key{ChatID: 1, ThreadID: 0}

	r.SetQuestion(key, &PendingQuestion{RequestID: "q1"})
	r.SetPermission(key, &PendingPermission{RequestID: "p1"})

	count := 0
	if _, ok := r.Question(key); ok {
		count++
	}
	if _, ok := r.Permission(key); ok {
		count++
	}
	if count != 2 {
		t.Fatalf("expected exactly 2 outstanding interactions for key, got %d", count)
	}
}

func TestPendingRegistryKeysAreIndependent(t *testing.T) {
	r := NewPendingRegistry()
	a := Key{ChatID: 1, ThreadID: 0}
	b := Key{ChatID: 2, ThreadID: 0}

	r.SetQuestion(a, &PendingQuestion{RequestID: "a"})
	if r.HasAny(b) {
		t.Fatal("expected key b to be unaffected by a write to key a")
	}
}

func TestPendingRegistryConcurrentAccess(t *testing.T) {
	r := NewPendingRegistry()
	key := Key{ChatID: 1, ThreadID: 0}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.SetQuestion(key, &PendingQuestion{RequestID: "x"})
			r.HasAny(key)
			r.ClearQuestion(key)
		}(i)
	}
	wg.Wait()
}

func TestPendingQuestionAnsweredCountAndOrderedAnswers(t *testing.T) {
	q := &PendingQuestion{
		Questions: []agentclient.Question{
			{Text: "color?", Options: []string{"red", "blue", "Other"}},
			{Text: "size?", Options: []string{"S", "M", "Other"}},
		},
		Answers: make(map[int][]string),
	}

	if q.AnsweredCount() != 0 {
		t.Fatalf("expected 0 answered initially, got %d", q.AnsweredCount())
	}

	q.Answers[1] = []string{"M"}
	if q.AnsweredCount() != 1 {
		t.Fatalf("expected 1 answered after one reply, got %d", q.AnsweredCount())
	}

	q.Answers[0] = []string{"custom"}
	if q.AnsweredCount() != len(q.Questions) {
		t.Fatalf("expected all questions answered, got %d/%d", q.AnsweredCount(), len(q.Questions))
	}

	ordered := q.OrderedAnswers()
	if len(ordered) != 2 || ordered[0][0] != "custom" || ordered[1][0] != "M" {
		t.Fatalf("expected answers in question order, got %+v", ordered)
	}
}
