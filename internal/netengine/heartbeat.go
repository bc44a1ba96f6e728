package netengine

import (
	"context"
	"time"

	"github.com/CaptainCow95/DatabaseV2/internal/document"
	"github.com/CaptainCow95/DatabaseV2/internal/wire"
)

// heartbeatTick matches spec §4.C's "every ~1s".
const heartbeatTick = 1 * time.Second

// RunHeartbeat sends a fire-and-forget Heartbeat on every registered
// connection, both directions, once per tick. Its purpose isn't the
// (absent) reply; a send failure is how a dead socket gets discovered
// (spec §4.C).
func (e *Engine) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.beatOnce()
		}
	}
}

func (e *Engine) beatOnce() {
	for _, entry := range e.reg.AllConnections() {
		msg := wire.NewOneWay(entry.Key, entry.Dir, wire.KindHeartbeat, document.New(), false)
		e.Send(entry.Dir, entry.Key, msg)
	}
}
