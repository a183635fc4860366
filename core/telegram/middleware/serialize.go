package middleware

import (
	"sync"

	tele "gopkg.in/telebot.v4"
)

// SerializeMiddleware runs downstream handlers one at a time. Roster and
// verification snapshots are written by a single goroutine this way, so the
// stores need no internal locking.
func SerializeMiddleware() tele.MiddlewareFunc {
	var mu sync.Mutex
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			mu.Lock()
			defer mu.Unlock()
			return next(c)
		}
	}
}
