// Package session performs the one-shot bootstrap at client start: fetch the
// conversation roster, then every conversation's history, and seed the state
// store before the realtime stream is processed.
package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/medisync/clinic-chat/internal/state"
)

// Roster is the request/response collaborator the bootstrap reads from.
type Roster interface {
	Conversations(ctx context.Context) ([]state.Conversation, error)
	Entries(ctx context.Context, peerID string) ([]state.Entry, error)
}

// Load populates the store. The roster fetch is load-bearing and its failure
// aborts the bootstrap; the per-conversation history fetches run in parallel
// and fail independently, each failure degrading that one conversation to an
// empty loaded history instead of blocking the join.
func Load(ctx context.Context, roster Roster, store *state.Store, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	convos, err := roster.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("fetch conversations: %w", err)
	}

	var wg sync.WaitGroup
	for _, c := range convos {
		store.Upsert(c)

		wg.Add(1)
		go func(c state.Conversation) {
			defer wg.Done()
			entries, err := roster.Entries(ctx, c.ID)
			if err != nil {
				log.Warn("history fetch failed, starting empty",
					zap.String("conversation", c.ID), zap.Error(err))
				store.Seed(c.ID, nil)
				return
			}
			store.Seed(c.ID, entries)
		}(c)
	}
	wg.Wait()

	log.Info("session initialized", zap.Int("conversations", len(convos)))
	return nil
}
