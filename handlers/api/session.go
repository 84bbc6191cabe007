package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"gotmail/models"
	"gotmail/storage"
	"gotmail/utils"

	"github.com/gofiber/fiber/v2"
)

// SessionUsers is the part of the user storage sessions are resolved against
type SessionUsers interface {
	GetUser(userID int64) (*models.User, error)
	GetUserBySession(token string) (*models.User, error)
}

// SessionResolver maps session tokens to users, caching the token->id
// lookup for a short while
type SessionResolver struct {
	users SessionUsers
	cache *utils.MemoryCache[int64]
	ttl   time.Duration
	now   func() time.Time
}

// NewSessionResolver creates a resolver caching resolutions for ttl
func NewSessionResolver(users SessionUsers, cache *utils.MemoryCache[int64], ttl time.Duration) *SessionResolver {
	return &SessionResolver{users: users, cache: cache, ttl: ttl, now: time.Now}
}

// ResolveIdentity returns the user owning a live session token
func (r *SessionResolver) ResolveIdentity(ctx context.Context, token string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, storage.ErrNotFound
	}

	if cached, ok := r.cache.Get(token); ok {
		user, err := r.users.GetUser(cached)
		if err == nil && user.SessionToken == token && user.HasLiveSession(r.now()) {
			return user, nil
		}
		r.cache.Delete(token)
	}

	user, err := r.users.GetUserBySession(token)
	if err != nil {
		return nil, err
	}
	r.cache.Set(token, user.ID, r.ttl)
	return user, nil
}

// Forget drops a token from the cache, on logout
func (r *SessionResolver) Forget(token string) {
	r.cache.Delete(token)
}

// GetSessionToken extracts the session token from the Authorization header
// ("<token>", "Token <token>" or "Bearer <token>") or the token query parameter
func GetSessionToken(c *fiber.Ctx) (string, error) {
	header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if header != "" {
		for _, scheme := range []string{"Token ", "Bearer "} {
			if len(header) > len(scheme) && strings.EqualFold(header[:len(scheme)], scheme) {
				header = strings.TrimSpace(header[len(scheme):])
				break
			}
		}
		return header, nil
	}

	if token := c.Query("token"); token != "" {
		return token, nil
	}

	return "", errors.New("no session token")
}

// SessionMiddleware rejects requests without a live session and stores the
// user in c.Locals("user") and the token in c.Locals("token")
func SessionMiddleware(resolver *SessionResolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := GetSessionToken(c)
		if err != nil {
			return utils.UnauthorizedError("Authentication credentials were not provided", err)
		}

		user, err := resolver.ResolveIdentity(c.UserContext(), token)
		if err != nil {
			return utils.UnauthorizedError("Invalid or expired token", err)
		}

		c.Locals("user", user)
		c.Locals("token", token)
		return c.Next()
	}
}

// currentUser returns the user stored by SessionMiddleware
func currentUser(c *fiber.Ctx) (*models.User, error) {
	user, ok := c.Locals("user").(*models.User)
	if !ok || user == nil {
		return nil, utils.UnauthorizedError("User not authenticated", nil)
	}
	return user, nil
}

// lang returns the request language stored by the locale middleware
func lang(c *fiber.Ctx) string {
	if l, ok := c.Locals("lang").(string); ok && l != "" {
		return l
	}
	return "en"
}

// storageError maps storage sentinels onto HTTP errors
func storageError(message string, err error) *utils.AppError {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return utils.NotFoundError(message+" not found", err)
	case errors.Is(err, storage.ErrAlreadyExists):
		return utils.BadRequestError(message+" already exists", err)
	default:
		return utils.InternalServerError("Failed to load "+strings.ToLower(message), err)
	}
}
