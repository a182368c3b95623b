package db

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/fleet-dispatch/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// MemoryUserCollection is an in-process UserCollection for STORE_DRIVER=memory.
type MemoryUserCollection struct {
	mu    sync.RWMutex
	users map[primitive.ObjectID]models.User
}

// NewMemoryUserCollection creates an empty user store.
func NewMemoryUserCollection() *MemoryUserCollection {
	return &MemoryUserCollection{users: make(map[primitive.ObjectID]models.User)}
}

// InsertUser stores user, rejecting a duplicate email.
func (c *MemoryUserCollection) InsertUser(ctx context.Context, user models.User) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	user.Email = strings.ToLower(user.Email)
	for _, u := range c.users {
		if u.Email == user.Email {
			return ErrAlreadyExists
		}
	}
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	user.IsActive = true
	c.users[user.ID] = user
	return nil
}

func (c *MemoryUserCollection) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[objectID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (c *MemoryUserCollection) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	email = strings.ToLower(email)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, u := range c.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (c *MemoryUserCollection) UpdateUser(ctx context.Context, id string, user models.User) error {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.users[objectID]; !ok {
		return ErrUserNotFound
	}
	user.ID = objectID
	user.UpdatedAt = time.Now()
	c.users[objectID] = user
	return nil
}

func (c *MemoryUserCollection) UpdateLastLogin(ctx context.Context, id string) error {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[objectID]
	if !ok {
		return ErrUserNotFound
	}
	now := time.Now()
	u.LastLogin = &now
	u.UpdatedAt = now
	c.users[objectID] = u
	return nil
}
