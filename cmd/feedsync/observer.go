// ABOUTME: Engine observer that reports remote-driven changes through the logger
// ABOUTME: Lets long-running commands show what other devices changed

package main

import (
	"github.com/charmbracelet/log"

	"github.com/harper/feedsync/internal/engine"
	"github.com/harper/feedsync/internal/models"
)

type logObserver struct {
	engine.NopObserver
	logger *log.Logger
}

func (o logObserver) SubscriptionsAdded(subs []*models.Subscription) {
	for _, s := range subs {
		o.logger.Debug("feed added", "url", s.URL)
	}
}

func (o logObserver) SubscriptionRemoved(s *models.Subscription) {
	o.logger.Info("feed removed", "url", s.URL)
}

func (o logObserver) EntryReadChanged(hash string, isRead bool) {
	o.logger.Debug("read mark changed", "entry", shortID(hash), "read", isRead)
}

func (o logObserver) ConnectivityChanged(c engine.Connectivity) {
	o.logger.Info("remote " + c.String())
}
