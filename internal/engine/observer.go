// ABOUTME: Observer notified of registry, entry and connectivity changes
// ABOUTME: NopObserver can be embedded to implement only the callbacks of interest

package engine

import "github.com/harper/feedsync/internal/models"

// Observer receives engine notifications. Callbacks run on the goroutine
// that made the change and must not block.
type Observer interface {
	// SubscriptionsAdded fires once per registry insert or batch insert.
	SubscriptionsAdded(subs []*models.Subscription)
	// SubscriptionRemoved fires when a subscription leaves the registry.
	SubscriptionRemoved(sub *models.Subscription)
	// SubscriptionUpdated fires after a fetch wrote the feed header.
	SubscriptionUpdated(sub *models.Subscription)
	// EntryReadChanged fires when a remote event changed an entry's read flag.
	EntryReadChanged(hash string, isRead bool)
	// ConnectivityChanged fires on every connectivity transition.
	ConnectivityChanged(c Connectivity)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) SubscriptionsAdded([]*models.Subscription) {}
func (NopObserver) SubscriptionRemoved(*models.Subscription)  {}
func (NopObserver) SubscriptionUpdated(*models.Subscription)  {}
func (NopObserver) EntryReadChanged(string, bool)             {}
func (NopObserver) ConnectivityChanged(Connectivity)          {}
