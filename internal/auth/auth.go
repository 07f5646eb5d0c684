// Package auth holds the optional sender allowlist.
package auth

import (
	"sort"
	"sync"
)

type User struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type Repository interface {
	LoadAll() ([]User, error)
	Upsert(user User) error
	Remove(userID string) error
}

// Service answers allowlist checks. An empty allowlist lets everyone in.
type Service struct {
	repo Repository

	mu           sync.RWMutex
	allowedUsers map[string]User
}

func NewWithRepo(repo Repository, initial []string) (*Service, error) {
	s := &Service{repo: repo, allowedUsers: make(map[string]User)}
	if repo != nil {
		users, err := repo.LoadAll()
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			if u.ID != "" {
				s.allowedUsers[u.ID] = u
			}
		}
	}
	// env ids carry no names
	for _, id := range initial {
		if id == "" {
			continue
		}
		if _, ok := s.allowedUsers[id]; !ok {
			s.allowedUsers[id] = User{ID: id}
		}
	}
	return s, nil
}

func (s *Service) IsAllowed(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.allowedUsers) == 0 {
		return true
	}
	_, ok := s.allowedUsers[userID]
	return ok
}

func (s *Service) Upsert(user User) error {
	s.mu.Lock()
	s.allowedUsers[user.ID] = user
	s.mu.Unlock()
	if s.repo != nil {
		return s.repo.Upsert(user)
	}
	return nil
}

func (s *Service) Remove(userID string) error {
	s.mu.Lock()
	delete(s.allowedUsers, userID)
	s.mu.Unlock()
	if s.repo != nil {
		return s.repo.Remove(userID)
	}
	return nil
}

// List returns users sorted by id.
func (s *Service) List() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.allowedUsers))
	for _, u := range s.allowedUsers {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
