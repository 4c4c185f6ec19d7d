package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"medipos/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      "admin",
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, store)
	_, err := manager.Login(domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0].Password == "admin123" {
		t.Fatalf("expected password to be upgraded from plain-text")
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
}

func TestCreateUserStoresPasswordHash(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      "admin",
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, store)
	user, err := manager.CreateUser(context.Background(), domain.UserCreateRequest{
		Username: "newkeeper",
		Password: "pass1234",
		Role:     domain.RoleStoreKeeper,
		StoreID:  1,
	})
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if user.Username != "newkeeper" || user.Role != domain.RoleStoreKeeper {
		t.Fatalf("unexpected user %+v", user)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	var found *domain.UserAccount
	for i := range users {
		if users[i].Username == "newkeeper" {
			found = &users[i]
			break
		}
	}
	if found == nil {
		t.Fatalf("expected user to be saved")
	}
	if found.Password == "pass1234" {
		t.Fatalf("expected password to be hashed")
	}
	if !strings.HasPrefix(found.Password, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", found.Password)
	}
	if found.StoreID != 1 {
		t.Fatalf("expected store assignment to persist, got %d", found.StoreID)
	}

	_, err = manager.Login(domain.LoginRequest{
		Username: "newkeeper",
		Password: "pass1234",
	})
	if err != nil {
		t.Fatalf("login with hashed user failed: %v", err)
	}
}

func TestCreateUserRejectsUnknownRole(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager("test-secret", time.Hour, store)

	_, err := manager.CreateUser(context.Background(), domain.UserCreateRequest{
		Username: "someone",
		Password: "pass1234",
		Role:     "pharmacist",
	})
	if err == nil {
		t.Fatalf("expected unknown role to be rejected")
	}
}

func TestParseTokenRoundTrip(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager("test-secret", time.Hour, store)

	token, err := manager.sign("keeper", domain.RoleStoreKeeper, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	actor, err := manager.ParseToken(token)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if actor.Username != "keeper" || actor.Role != domain.RoleStoreKeeper {
		t.Fatalf("unexpected actor %+v", actor)
	}
}
