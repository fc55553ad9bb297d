package repository

import (
	"log"

	"github.com/jaakkos/hangout/internal/clock"
	"github.com/jaakkos/hangout/internal/repository/sqlite"
)

// NewSessionStore returns a session store backed by SQLite at path, with
// change notifications signalled through files in signalDir. The caller runs
// notifier.Start in a goroutine and stops it on shutdown.
func NewSessionStore(path, signalDir string, logger *log.Logger, c clock.Clock, opts ...sqlite.NotifierOption) (*sqlite.Store, *sqlite.Notifier, error) {
	opts = append([]sqlite.NotifierOption{sqlite.WithNotifyClock(c)}, opts...)
	notifier := sqlite.NewNotifier(signalDir, logger, opts...)
	store, err := sqlite.New(path, sqlite.WithNotifier(notifier), sqlite.WithClock(c))
	if err != nil {
		return nil, nil, err
	}
	return store, notifier, nil
}
