package notification

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rongwang/sts-clearance/internal/models"
)

// MemoryStore keeps notifications in process memory. Each instance is independent.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]models.Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: map[string][]models.Notification{}}
}

func (s *MemoryStore) Publish(_ context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	n.UserEmail = strings.ToLower(n.UserEmail)

	s.mu.Lock()
	s.items[n.UserEmail] = append(s.items[n.UserEmail], *n)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(_ context.Context, email string, unreadOnly bool, limit int) ([]models.Notification, error) {
	s.mu.RLock()
	src := s.items[strings.ToLower(email)]
	out := make([]models.Notification, 0, len(src))
	for _, n := range src {
		if unreadOnly && n.Read {
			continue
		}
		out = append(out, n)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, id, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.items[strings.ToLower(email)]
	for i := range list {
		if list[i].ID == id {
			list[i].Read = true
			return nil
		}
	}
	return models.ErrNotFound
}

func (s *MemoryStore) CountUnread(_ context.Context, email string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, item := range s.items[strings.ToLower(email)] {
		if !item.Read {
			n++
		}
	}
	return n, nil
}
