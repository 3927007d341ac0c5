package pool

import (
	"context"
	"time"

	"github.com/blocknative/syncgate/structs"
)

// Entries older than the gossip admission window can no longer receive
// inserts and no caller asks for them, so one extra slot of retention is
// enough for late Get calls.
const retainSlots = structs.GossipClockDisparitySlots + 1

type State interface {
	HeadSlot() structs.Slot
}

// Prune drops entries that fell out of the retention window. Pruning takes
// each shard lock briefly; inserts for current slots on other shards are not
// blocked.
func (p *Pool) Prune(head structs.Slot) {
	var removed int
	for _, s := range p.shards {
		s.mu.Lock()
		for key := range s.entries {
			if key.Slot+retainSlots < head {
				delete(s.entries, key)
				removed++
			}
		}
		s.mu.Unlock()
	}

	if removed > 0 {
		p.m.Entries.Sub(float64(removed))
		p.l.With(head).WithField("removed", removed).Debug("aggregation pool pruned")
	}
}

// RunPrune prunes once per slot until the context is done.
func (p *Pool) RunPrune(ctx context.Context, state State) {
	ticker := time.NewTicker(structs.DurationPerSlot)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(state.HeadSlot())
		}
	}
}
