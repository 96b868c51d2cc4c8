// Package memoryusers provides an in-memory users.Manager and
// users.PasswordAuthenticator. Passwords are stored as bcrypt hashes.
package memoryusers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ggoodman/userauth/users"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrEmailTaken is returned by Create when the email is already registered.
var ErrEmailTaken = errors.New("memoryusers: email already registered")

// User is the snapshot stored by Manager.
type User struct {
	id       uuid.UUID
	email    string
	active   bool
	verified bool
	hash     []byte
}

func (u *User) ID() uuid.UUID    { return u.id }
func (u *User) Email() string    { return u.email }
func (u *User) IsActive() bool   { return u.active }
func (u *User) IsVerified() bool { return u.verified }

// UserOption adjusts a user at creation time.
type UserOption func(*User)

// Active marks the user active.
func Active() UserOption { return func(u *User) { u.active = true } }

// Verified marks the user verified.
func Verified() UserOption { return func(u *User) { u.verified = true } }

// WithID forces the user's identifier.
func WithID(id uuid.UUID) UserOption { return func(u *User) { u.id = id } }

// Option configures a Manager.
type Option func(*Manager)

// WithCost sets the bcrypt cost used for new passwords.
func WithCost(cost int) Option { return func(m *Manager) { m.cost = cost } }

// Manager is a concurrency-safe in-memory user registry.
type Manager struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*User
	byEmail map[string]*User
	cost    int
	dummy   []byte
}

var (
	_ users.Manager               = (*Manager)(nil)
	_ users.PasswordAuthenticator = (*Manager)(nil)
)

// New creates an empty Manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		byID:    make(map[uuid.UUID]*User),
		byEmail: make(map[string]*User),
		cost:    bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(m)
	}
	// Compared against when the email is unknown so that both paths pay
	// for one bcrypt comparison.
	m.dummy, _ = bcrypt.GenerateFromPassword([]byte(uuid.NewString()), m.cost)
	return m
}

// Create registers a user. New users are inactive and unverified unless
// options say otherwise.
func (m *Manager) Create(ctx context.Context, email, password string, opts ...UserOption) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), m.cost)
	if err != nil {
		return nil, fmt.Errorf("memoryusers: hash password: %w", err)
	}
	u := &User{id: uuid.New(), email: normalizeEmail(email), hash: hash}
	for _, opt := range opts {
		opt(u)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[u.email]; ok {
		return nil, ErrEmailTaken
	}
	m.byID[u.id] = u
	m.byEmail[u.email] = u
	return u, nil
}

// Update replaces the flags of an existing user.
func (m *Manager) Update(ctx context.Context, id uuid.UUID, opts ...UserOption) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[id]
	if !ok {
		return nil, users.ErrUserNotExists
	}
	next := *cur
	for _, opt := range opts {
		opt(&next)
	}
	next.id = cur.id
	m.byID[id] = &next
	m.byEmail[next.email] = &next
	return &next, nil
}

// Deactivate clears the active flag of a user.
func (m *Manager) Deactivate(ctx context.Context, id uuid.UUID) error {
	_, err := m.Update(ctx, id, func(u *User) { u.active = false })
	return err
}

// Delete removes a user.
func (m *Manager) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return users.ErrUserNotExists
	}
	delete(m.byID, id)
	delete(m.byEmail, u.email)
	return nil
}

func (m *Manager) Get(ctx context.Context, id uuid.UUID) (users.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, users.ErrUserNotExists
	}
	return u, nil
}

func (m *Manager) AuthenticatePassword(ctx context.Context, username, password string) (users.User, error) {
	m.mu.RLock()
	u, ok := m.byEmail[normalizeEmail(username)]
	m.mu.RUnlock()

	if !ok {
		_ = bcrypt.CompareHashAndPassword(m.dummy, []byte(password))
		return nil, nil
	}
	if err := bcrypt.CompareHashAndPassword(u.hash, []byte(password)); err != nil {
		return nil, nil
	}
	return u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
