package voice

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// warnWindow is how long a connection stays muted after a warning is logged
// for it.
const warnWindow = 10 * time.Second

// WarnCache remembers recently warned connections so that a client that
// keeps streaming without a session does not flood the log.
type WarnCache struct {
	*lru.Cache[string, time.Time]
}

// NewWarnCache creates a WarnCache with the given size.
func NewWarnCache(size int) (*WarnCache, error) {
	lruCache, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, err
	}

	return &WarnCache{
		Cache: lruCache,
	}, nil
}

// ShouldWarn reports whether a warning for key is due at now and records it
// if so.
func (wc *WarnCache) ShouldWarn(key string, now time.Time) bool {
	if last, ok := wc.Get(key); ok && now.Sub(last) < warnWindow {
		return false
	}
	wc.Add(key, now)
	return true
}
