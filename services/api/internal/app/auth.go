package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"plantcare/internal/util"
	"plantcare/pkg/auth"
	"plantcare/pkg/domain"
	"plantcare/pkg/events"
	"plantcare/pkg/store"
)

// SignUp registers a new user and starts a session.
func (a *App) SignUp(ctx context.Context, email, password, name string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return domain.User{}, "", ErrEmailAndPasswordRequired
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, "", invalid("password", err)
	}
	exists, err := a.store.HasUserEmail(ctx, email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, "", ErrEmailAlreadyExists
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	now := a.now().UTC()
	user := domain.User{
		ID:           util.NewID(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveUser(ctx, user); err != nil {
		return domain.User{}, "", fmt.Errorf("save user: %w", err)
	}
	return a.startSession(ctx, user)
}

// Login validates credentials and starts a session.
func (a *App) Login(ctx context.Context, email, password string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return domain.User{}, "", ErrEmailAndPasswordRequired
	}
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	return a.startSession(ctx, user)
}

func (a *App) startSession(ctx context.Context, user domain.User) (domain.User, string, error) {
	token, err := a.sessions.NewSession(ctx, user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("create session: %w", err)
	}
	a.publish(ctx, events.SignedIn, domain.UserPath(user.ID))
	return user, token, nil
}

// UserFromToken resolves the user behind a session token.
func (a *App) UserFromToken(ctx context.Context, token string) (domain.User, error) {
	if strings.TrimSpace(token) == "" {
		return domain.User{}, ErrUnauthorized
	}
	userID, ok, err := a.sessions.GetUserIDByToken(ctx, token)
	if err != nil || !ok {
		return domain.User{}, ErrUnauthorized
	}
	user, ok, err := a.store.GetUserByID(ctx, userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUnauthorized
	}
	return user, nil
}

// Logout revokes one session token.
func (a *App) Logout(ctx context.Context, user domain.User, token string) error {
	if err := a.sessions.DeleteSession(ctx, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	a.publish(ctx, events.SignedOut, domain.UserPath(user.ID))
	return nil
}

// LogoutAll revokes every session issued to the user so far.
func (a *App) LogoutAll(ctx context.Context, user domain.User) error {
	revoker, ok := a.sessions.(store.UserSessionRevoker)
	if !ok {
		return fmt.Errorf("session store cannot revoke all sessions")
	}
	// Session tokens carry wall clock issue times, independent of a.now.
	if err := revoker.RevokeUserSessions(ctx, user.ID, time.Now()); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	a.publish(ctx, events.SignedOut, domain.UserPath(user.ID))
	return nil
}

// UpdateProfile sets the user's display name.
func (a *App) UpdateProfile(ctx context.Context, user domain.User, name string) (domain.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.User{}, invalid("name", ErrNameRequired)
	}
	if err := a.store.UpdateUserName(ctx, user.ID, name); err != nil {
		return domain.User{}, fmt.Errorf("update user: %w", err)
	}
	return a.CurrentUser(ctx, user)
}

// CurrentUser reloads the caller's user record.
func (a *App) CurrentUser(ctx context.Context, user domain.User) (domain.User, error) {
	current, ok, err := a.store.GetUserByID(ctx, user.ID)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUnauthorized
	}
	return current, nil
}
