package relay

import (
	"go.uber.org/fx"

	"github.com/wagaya/voicerelay/internal/voice"
)

var Module = fx.Module("relay",
	fx.Provide(
		NewHub,
		NewGroupRelay,
		NewServer,
	),
)

// NewGroupRelay exposes the hub as the registry's fan-out relay.
func NewGroupRelay(h *Hub) voice.GroupRelay {
	return h
}
