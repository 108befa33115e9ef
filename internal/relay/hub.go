// Package relay carries voice traffic between connected clients over
// WebSocket and fans processed frames out to channel members.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/wagaya/voicerelay/internal/observe"
	"github.com/wagaya/voicerelay/internal/voice"
)

var (
	// ErrUnknownConnection is returned for connections that are not attached.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrAlreadyAttached is returned when a connection ID is attached twice.
	ErrAlreadyAttached = errors.New("connection already attached")
)

var _ voice.GroupRelay = (*Hub)(nil)

// Hub is an in-memory group relay. Each attached connection owns a bounded
// outbox; broadcasts never block on a slow reader and drop instead.
type Hub struct {
	logger  *zap.Logger
	metrics *observe.Metrics

	mu     sync.RWMutex
	groups map[string]map[string]struct{}
	peers  map[string]chan []byte
}

// NewHub creates an empty Hub.
func NewHub(logger *zap.Logger, metrics *observe.Metrics) *Hub {
	return &Hub{
		logger:  logger.Named("hub"),
		metrics: metrics,
		groups:  make(map[string]map[string]struct{}),
		peers:   make(map[string]chan []byte),
	}
}

// Attach registers connID with an outbox of the given size and returns the
// channel the connection's writer drains. The channel is closed by Detach.
func (h *Hub) Attach(connID string, size int) (<-chan []byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.peers[connID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyAttached, connID)
	}
	ch := make(chan []byte, size)
	h.peers[connID] = ch
	return ch, nil
}

// Detach removes connID from every group and closes its outbox.
func (h *Hub) Detach(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.peers[connID]
	if !ok {
		return
	}
	for groupID, members := range h.groups {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.groups, groupID)
		}
	}
	delete(h.peers, connID)
	close(ch)
}

// Send queues msg for connID alone. It reports false when the outbox is
// full or the connection is gone.
func (h *Hub) Send(connID string, msg []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ch, ok := h.peers[connID]
	if !ok {
		return false
	}
	select {
	case ch <- msg:
		return true
	default:
		return false
	}
}

// AddToGroup makes connID a member of groupID.
func (h *Hub) AddToGroup(_ context.Context, connID, groupID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.peers[connID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	members, ok := h.groups[groupID]
	if !ok {
		members = make(map[string]struct{})
		h.groups[groupID] = members
	}
	members[connID] = struct{}{}
	return nil
}

// RemoveFromGroup drops connID from groupID. Once it returns, no later
// broadcast to the group reaches connID.
func (h *Hub) RemoveFromGroup(_ context.Context, connID, groupID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[groupID]
	if !ok {
		return nil
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.groups, groupID)
	}
	return nil
}

// BroadcastToGroupExcept queues payload for every current member of groupID
// other than excludedConnID. Members whose outbox is full miss the payload.
func (h *Hub) BroadcastToGroupExcept(ctx context.Context, groupID, excludedConnID string, payload []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var delivered int64
	for connID := range h.groups[groupID] {
		if connID == excludedConnID {
			continue
		}
		select {
		case h.peers[connID] <- payload:
			delivered++
		default:
			h.metrics.RecordDrop(ctx, observe.DropSlowConsumer)
			h.logger.Debug("Outbox full, dropping frame",
				zap.String("connection_id", connID),
				zap.String("group_id", groupID))
		}
	}
	if delivered > 0 {
		h.metrics.Deliveries.Add(ctx, delivered)
	}
	return nil
}

// Members returns the sorted member IDs of groupID.
func (h *Hub) Members(groupID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.groups[groupID]))
	for connID := range h.groups[groupID] {
		out = append(out, connID)
	}
	sort.Strings(out)
	return out
}
