// Package token owns OAuth credential storage and refresh for provider
// configs. Refreshes run under the token's row lock so concurrent callers
// serialize instead of racing the provider's token endpoint.
package token

import (
	"context"
	"log/slog"
	"time"

	"apptsync/internal/apperr"
	"apptsync/internal/model"
	"apptsync/internal/provider"
	"apptsync/internal/storage"
	"apptsync/libs/db"
)

type Store struct {
	pool     *db.Pool
	tokens   *storage.Tokens
	registry *provider.Registry
	logger   *slog.Logger
}

func NewStore(pool *db.Pool, tokens *storage.Tokens, registry *provider.Registry, logger *slog.Logger) *Store {
	return &Store{pool: pool, tokens: tokens, registry: registry, logger: logger}
}

// Save stores a freshly exchanged credential for the config, displacing any
// prior token rows.
func (s *Store) Save(ctx context.Context, configID string, td provider.TokenData) (model.Token, error) {
	tokenType := td.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return s.tokens.Replace(ctx, model.Token{
		ConfigID:     configID,
		AccessToken:  td.AccessToken,
		RefreshToken: td.RefreshToken,
		TokenType:    tokenType,
		Scope:        td.Scope,
		ExpiresAt:    td.ExpiresAt,
	})
}

// ValidToken returns a usable access token for the config, refreshing first
// when the stored one is expired or about to expire.
func (s *Store) ValidToken(ctx context.Context, cfg model.ProviderConfig) (model.Token, error) {
	tok, err := s.tokens.Current(ctx, cfg.ID)
	if storage.IsNotFound(err) {
		return model.Token{}, apperr.New(apperr.CodeAuthRequired, "config %s has no stored credential; reconnect the provider", cfg.ID)
	}
	if err != nil {
		return model.Token{}, err
	}
	if !tok.IsExpired(time.Now()) {
		return tok, nil
	}
	return s.refresh(ctx, cfg)
}

// refresh renews the config's access token under the token row lock. A second
// instance blocked on the lock re-reads the row and finds it already fresh.
func (s *Store) refresh(ctx context.Context, cfg model.ProviderConfig) (model.Token, error) {
	adapter, err := s.registry.Get(cfg.Provider)
	if err != nil {
		return model.Token{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Token{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tok, err := s.tokens.CurrentForUpdate(ctx, tx, cfg.ID)
	if storage.IsNotFound(err) {
		return model.Token{}, apperr.New(apperr.CodeAuthRequired, "config %s has no stored credential; reconnect the provider", cfg.ID)
	}
	if err != nil {
		return model.Token{}, err
	}
	if !tok.IsExpired(time.Now()) {
		return tok, tx.Commit(ctx)
	}
	if tok.RefreshToken == "" {
		return model.Token{}, apperr.New(apperr.CodeAuthRequired, "config %s has no refresh token; reconnect the provider", cfg.ID)
	}

	td, err := adapter.RefreshAccessToken(ctx, cfg, tok.RefreshToken)
	if err != nil {
		return model.Token{}, apperr.Wrap(apperr.CodeRefreshFailure, err, "token refresh failed for config %s", cfg.ID)
	}
	if err := s.tokens.UpdateAccess(ctx, tx, tok.ID, td.AccessToken, td.RefreshToken, td.ExpiresAt); err != nil {
		return model.Token{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Token{}, err
	}

	tok.AccessToken = td.AccessToken
	if td.RefreshToken != "" {
		tok.RefreshToken = td.RefreshToken
	}
	tok.ExpiresAt = td.ExpiresAt
	s.logger.Info("access token refreshed", "config_id", cfg.ID, "expires_at", td.ExpiresAt)
	return tok, nil
}

// RevokeAll revokes the config's credential at the provider and deletes the
// stored rows. Provider-side revocation is best effort; local deletion is not.
func (s *Store) RevokeAll(ctx context.Context, cfg model.ProviderConfig) error {
	tok, err := s.tokens.Current(ctx, cfg.ID)
	if err == nil {
		if adapter, aerr := s.registry.Get(cfg.Provider); aerr == nil {
			if rerr := adapter.RevokeToken(ctx, cfg, tok.AccessToken); rerr != nil {
				s.logger.Warn("provider-side token revocation failed", "config_id", cfg.ID, "err", rerr)
			}
		}
	} else if !storage.IsNotFound(err) {
		return err
	}
	return s.tokens.DeleteForConfig(ctx, cfg.ID)
}

// RefreshExpiring proactively renews tokens lapsing before the cutoff.
// Individual failures are logged and skipped so one broken config cannot
// starve the rest.
func (s *Store) RefreshExpiring(ctx context.Context, configs *storage.Configs, cutoff time.Time) {
	toks, err := s.tokens.ExpiringSoon(ctx, cutoff)
	if err != nil {
		s.logger.Error("listing expiring tokens failed", "err", err)
		return
	}
	for _, tok := range toks {
		cfg, err := configs.Get(ctx, tok.ConfigID)
		if err != nil {
			s.logger.Warn("config lookup failed for expiring token", "config_id", tok.ConfigID, "err", err)
			continue
		}
		if _, err := s.refresh(ctx, cfg); err != nil {
			s.logger.Warn("proactive token refresh failed", "config_id", cfg.ID, "err", err)
		}
	}
}
