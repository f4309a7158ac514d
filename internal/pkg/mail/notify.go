package mail

import (
	"context"

	"github.com/thirdpath/thirdpath/app/models"
	"github.com/thirdpath/thirdpath/internal/pkg/config"
)

// Notifications sends the subscription mails triggered by the webhook.
type Notifications struct {
	composer *Composer
	dispatch Dispatcher
	zoom     config.Zoom
}

func NewNotifications(c *Composer, d Dispatcher, zoom config.Zoom) *Notifications {
	return &Notifications{composer: c, dispatch: d, zoom: zoom}
}

func (n *Notifications) GroupWelcome(ctx context.Context, track models.Track, email string) error {
	msg, err := n.composer.Welcome(track, email, n.zoom.LinkFor(track))
	if err != nil {
		return err
	}
	return n.dispatch.Dispatch(ctx, msg)
}

func (n *Notifications) NewSubscriber(ctx context.Context, track models.Track, email, subscriptionID string) error {
	msg, err := n.composer.NewSubscriber(track, email, subscriptionID)
	if err != nil {
		return err
	}
	return n.dispatch.Dispatch(ctx, msg)
}
