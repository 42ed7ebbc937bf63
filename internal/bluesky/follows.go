package bluesky

import (
	"context"
	"sync"

	"github.com/blackmichael/clean-following/internal/domain"
)

// FollowSource implements domain.FollowSource for a single account. The
// handle is resolved to a DID once and cached for subsequent refreshes.
type FollowSource struct {
	client *Client
	handle string

	mu  sync.Mutex
	did string
}

// NewFollowSource creates a follow source for the given account handle.
func NewFollowSource(client *Client, handle string) *FollowSource {
	return &FollowSource{
		client: client,
		handle: handle,
	}
}

// FetchFollows resolves the configured handle and pages through its full
// follow list.
func (f *FollowSource) FetchFollows(ctx context.Context) ([]domain.Follow, error) {
	did, err := f.resolveDID(ctx)
	if err != nil {
		return nil, err
	}
	return f.client.GetFollows(ctx, did)
}

func (f *FollowSource) resolveDID(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.did != "" {
		return f.did, nil
	}

	did, err := f.client.ResolveHandle(ctx, f.handle)
	if err != nil {
		return "", err
	}
	f.did = did
	return did, nil
}
