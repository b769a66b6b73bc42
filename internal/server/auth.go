package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fenggwsx/SlashHub/internal/auth"
	"github.com/fenggwsx/SlashHub/internal/config"
	"github.com/fenggwsx/SlashHub/internal/protocol"
	"github.com/fenggwsx/SlashHub/internal/storage"
)

var (
	errUserExists         = errors.New("user already exists")
	errInvalidCredentials = errors.New("invalid credentials")
	errInvalidPayload     = errors.New("invalid auth payload")
	errUnsupportedAction  = errors.New("unsupported auth action")
)

type accountStore interface {
	CreateUser(ctx context.Context, user *storage.User) error
	GetUserByUsername(ctx context.Context, username string) (*storage.User, error)
}

// Accounts registers users and issues tokens for them.
type Accounts struct {
	store accountStore
	jwt   config.JWTConfig
}

// NewAccounts builds the account service.
func NewAccounts(store accountStore, jwt config.JWTConfig) *Accounts {
	return &Accounts{store: store, jwt: jwt}
}

// Handle runs the login or register action of req.
func (a *Accounts) Handle(ctx context.Context, req protocol.AuthRequest) (protocol.AuthResponse, *storage.User, error) {
	var (
		user *storage.User
		err  error
	)
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "register":
		user, err = a.register(ctx, req)
	case "login":
		user, err = a.login(ctx, req)
	default:
		return protocol.AuthResponse{}, nil, errUnsupportedAction
	}
	if err != nil {
		return protocol.AuthResponse{}, nil, err
	}

	expiresAt := time.Now().Add(a.jwt.Expiration)
	token, err := auth.NewToken(a.jwt, user.ID, user.Username)
	if err != nil {
		return protocol.AuthResponse{}, nil, fmt.Errorf("issue token: %w", err)
	}
	return protocol.AuthResponse{Token: token, ExpiresAt: expiresAt.Unix(), UserID: user.ID}, user, nil
}

func (a *Accounts) register(ctx context.Context, req protocol.AuthRequest) (*storage.User, error) {
	username, password, err := sanitizeCredentials(req)
	if err != nil {
		return nil, err
	}

	if _, err := a.store.GetUserByUsername(ctx, username); err == nil {
		return nil, errUserExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user := &storage.User{
		Username:  username,
		Password:  hashed,
		Status:    storage.StatusOffline,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (a *Accounts) login(ctx context.Context, req protocol.AuthRequest) (*storage.User, error) {
	username, password, err := sanitizeCredentials(req)
	if err != nil {
		return nil, err
	}

	user, err := a.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errInvalidCredentials
		}
		return nil, err
	}
	if err := auth.ComparePassword(user.Password, password); err != nil {
		return nil, errInvalidCredentials
	}
	return user, nil
}

func sanitizeCredentials(req protocol.AuthRequest) (string, string, error) {
	username := strings.TrimSpace(req.Username)
	password := req.Password
	if username == "" || password == "" {
		return "", "", errInvalidPayload
	}
	return username, password, nil
}

// authReason is the client-facing text for an account error.
func authReason(err error) string {
	switch {
	case errors.Is(err, errUserExists):
		return "username already exists"
	case errors.Is(err, errInvalidCredentials), errors.Is(err, errInvalidPayload):
		return "invalid credentials"
	case errors.Is(err, errUnsupportedAction):
		return "unsupported auth action"
	default:
		return "authentication failed"
	}
}
