package voice

import "context"

// GroupRelay is the pub/sub primitive used for fan-out. Implementations
// deliver a broadcast to every member present at the time of the call, at
// most once per member, never to the excluded connection, and preserve the
// order of one sender's broadcasts to each receiver.
type GroupRelay interface {
	AddToGroup(ctx context.Context, connID, groupID string) error
	RemoveFromGroup(ctx context.Context, connID, groupID string) error
	BroadcastToGroupExcept(ctx context.Context, groupID, excludedConnID string, payload []byte) error
}
