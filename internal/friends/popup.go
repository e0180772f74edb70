package friends

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"nexchat-service/internal/docstore"
	"nexchat-service/internal/models"
	"nexchat-service/internal/users"
)

// SurfacedSet is the durable set of request ids already shown to a user.
type SurfacedSet interface {
	IsSurfaced(ctx context.Context, userID, requestID string) (bool, error)
	// MarkSurfaced adds requestID and reports whether it was not present.
	MarkSurfaced(ctx context.Context, userID, requestID string) (bool, error)
}

// Popup asks the client to show a friend request once. The receiver calls
// Shown after delivering it; until then the request stays eligible for the
// next session.
type Popup struct {
	Request      models.FriendRequest `json:"request"`
	FromUsername string               `json:"fromUsername"`

	shown func(context.Context)
}

// Shown records the popup in the surfaced set.
func (p Popup) Shown(ctx context.Context) {
	if p.shown != nil {
		p.shown(ctx)
	}
}

type PopupWatcher struct {
	store    docstore.Store
	users    *users.Directory
	surfaced SurfacedSet
	log      zerolog.Logger
}

func NewPopupWatcher(store docstore.Store, dir *users.Directory, surfaced SurfacedSet, log zerolog.Logger) *PopupWatcher {
	return &PopupWatcher{
		store:    store,
		users:    dir,
		surfaced: surfaced,
		log:      log.With().Str("component", "friend_popups").Logger(),
	}
}

// Watch emits one Popup per pending request addressed to userID that has
// never been surfaced before, across restarts. When the surfaced set cannot
// be read the popup is still shown.
func (p *PopupWatcher) Watch(ctx context.Context, userID string) (<-chan Popup, error) {
	snaps, err := p.store.WatchQuery(ctx, incomingQuery(userID))
	if err != nil {
		return nil, fmt.Errorf("watch incoming requests: %w", err)
	}
	out := make(chan Popup)
	go func() {
		defer close(out)
		for snap := range snaps {
			for _, change := range snap.Changes {
				if change.Kind != docstore.ChangeAdded {
					continue
				}
				req := models.FriendRequestFromDoc(change.Doc)
				seen, err := p.surfaced.IsSurfaced(ctx, userID, req.ID)
				if err != nil {
					p.log.Warn().Err(err).Str("user_id", userID).Str("request_id", req.ID).Msg("surfaced set read failed")
				}
				if seen {
					continue
				}
				popup := Popup{Request: req, shown: p.markShown(userID, req.ID)}
				if sender, err := p.users.Get(ctx, req.FromUserID); err == nil {
					popup.FromUsername = sender.Username
				}
				select {
				case out <- popup:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (p *PopupWatcher) markShown(userID, requestID string) func(context.Context) {
	return func(ctx context.Context) {
		if _, err := p.surfaced.MarkSurfaced(ctx, userID, requestID); err != nil {
			p.log.Warn().Err(err).Str("user_id", userID).Str("request_id", requestID).Msg("surfaced set write failed")
		}
	}
}
