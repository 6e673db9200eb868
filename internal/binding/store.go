// Package binding maps chat identities to site accounts on top of the
// host's account metadata.
package binding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"qqbridge/internal/domain"
)

// Store reads and writes bindings. Each account holds at most one chat
// identity and each chat identity resolves to at most one account.
type Store struct {
	meta   domain.MetaStore
	logger *slog.Logger
}

// NewStore creates a binding store over the host metadata store.
func NewStore(meta domain.MetaStore, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{meta: meta, logger: logger}
}

// Find returns the account bound to chatID. ok is false when none is.
func (s *Store) Find(ctx context.Context, chatID string) (int64, bool, error) {
	if chatID == "" {
		return 0, false, nil
	}
	id, err := s.meta.FindAccountByMeta(ctx, domain.BindingMetaKey, chatID)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("find binding for %s: %w", chatID, err)
	}
	return id, true, nil
}

// Bind associates chatID with accountID, replacing any account previously
// bound to the same chat identity and any chat identity previously bound
// to the account.
func (s *Store) Bind(ctx context.Context, chatID string, accountID int64) error {
	prev, ok, err := s.Find(ctx, chatID)
	if err != nil {
		return err
	}
	if ok && prev != accountID {
		if _, err := s.meta.DeleteMeta(ctx, prev, domain.BindingMetaKey); err != nil {
			return fmt.Errorf("release %s from user %d: %w", chatID, prev, err)
		}
		s.logger.Info("binding moved", "qq_id", chatID, "from_user_id", prev, "to_user_id", accountID)
	}
	if err := s.meta.SetMeta(ctx, accountID, domain.BindingMetaKey, chatID); err != nil {
		return fmt.Errorf("bind %s to user %d: %w", chatID, accountID, err)
	}
	return nil
}

// Unbind removes the account's binding. It reports whether one existed.
func (s *Store) Unbind(ctx context.Context, accountID int64) (bool, error) {
	removed, err := s.meta.DeleteMeta(ctx, accountID, domain.BindingMetaKey)
	if err != nil {
		return false, fmt.Errorf("unbind user %d: %w", accountID, err)
	}
	return removed, nil
}

// List returns every binding ordered by account ID.
func (s *Store) List(ctx context.Context) ([]domain.Binding, error) {
	all, err := s.meta.ListMeta(ctx, domain.BindingMetaKey)
	if err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	out := make([]domain.Binding, 0, len(all))
	for id, chatID := range all {
		out = append(out, domain.Binding{ChatID: chatID, AccountID: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

// Purge deletes every binding, as on uninstall.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	n, err := s.meta.DeleteMetaByKey(ctx, domain.BindingMetaKey)
	if err != nil {
		return 0, fmt.Errorf("purge bindings: %w", err)
	}
	s.logger.Info("bindings purged", "count", n)
	return n, nil
}
