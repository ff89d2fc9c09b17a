package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrTokenNotFound means the user has no stored streaming credential.
	ErrTokenNotFound = errors.New("token not found")

	// ErrStateNotFound means the OAuth state is unknown or already expired.
	ErrStateNotFound = errors.New("auth state not found")
)

// authStateTTL bounds how long an OAuth handshake may stay pending. Expiry is
// enforced by Redis itself, so abandoned handshakes cannot accumulate.
const authStateTTL = 10 * time.Minute

// TokenInfo is one user's streaming-service credential.
type TokenInfo struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token needs a refresh before use.
func (t *TokenInfo) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// AuthState correlates an in-flight OAuth handshake with the user who
// started it.
type AuthState struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

type TokenStore struct {
	client *redis.Client
}

// NewTokenStore creates a new token store with the given Redis client
func NewTokenStore(client *redis.Client) *TokenStore {
	return &TokenStore{client: client}
}

// StoreTokens stores the user's streaming credential in Redis
func (s *TokenStore) StoreTokens(ctx context.Context, userID string, token *TokenInfo) error {
	tokenJSON, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	key := fmt.Sprintf("token:%s", userID)
	if err := s.client.Set(ctx, key, tokenJSON, 0).Err(); err != nil { // 0 means no expiration
		return fmt.Errorf("failed to store token: %w", err)
	}

	return nil
}

// GetTokens retrieves the user's streaming credential from Redis
func (s *TokenStore) GetTokens(ctx context.Context, userID string) (*TokenInfo, error) {
	key := fmt.Sprintf("token:%s", userID)
	tokenJSON, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	var token TokenInfo
	if err := json.Unmarshal(tokenJSON, &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}

	return &token, nil
}

// DeleteToken removes the user's credential from Redis
func (s *TokenStore) DeleteToken(ctx context.Context, userID string) error {
	key := fmt.Sprintf("token:%s", userID)
	return s.client.Del(ctx, key).Err()
}

// RefreshToken updates the access token and its expiry in Redis. The caller
// must persist before using the new token so racing refreshes cannot leave
// the store behind an in-flight sync.
func (s *TokenStore) RefreshToken(ctx context.Context, userID string, newAccessToken string, newExpiresAt time.Time) error {
	token, err := s.GetTokens(ctx, userID)
	if err != nil {
		return err
	}

	token.AccessToken = newAccessToken
	token.ExpiresAt = newExpiresAt
	return s.StoreTokens(ctx, userID, token)
}

// StoreAuthState records an OAuth handshake keyed by its opaque state token,
// with a TTL so the entry cleans itself up.
func (s *TokenStore) StoreAuthState(ctx context.Context, state string, userID string) error {
	stateJSON, err := json.Marshal(AuthState{UserID: userID, CreatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal auth state: %w", err)
	}

	key := fmt.Sprintf("authstate:%s", state)
	if err := s.client.Set(ctx, key, stateJSON, authStateTTL).Err(); err != nil {
		return fmt.Errorf("failed to store auth state: %w", err)
	}

	return nil
}

// ConsumeAuthState fetches and deletes the handshake record so a state token
// can only be redeemed once.
func (s *TokenStore) ConsumeAuthState(ctx context.Context, state string) (*AuthState, error) {
	key := fmt.Sprintf("authstate:%s", state)
	stateJSON, err := s.client.GetDel(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to get auth state: %w", err)
	}

	var st AuthState
	if err := json.Unmarshal(stateJSON, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal auth state: %w", err)
	}

	return &st, nil
}
