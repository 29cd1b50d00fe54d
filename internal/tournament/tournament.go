// Package tournament describes a tournament: its activity window, its leaderboard
// chain and the shard chains that partition its players.
package tournament

import (
	"strings"

	"tilerank/apps/chain/internal/chain"
	"tilerank/apps/chain/internal/ranking"
	"tilerank/apps/chain/internal/rng"
	"tilerank/apps/chain/internal/throttle"
	"tilerank/apps/chain/internal/timing"
	"tilerank/apps/chain/internal/types"
)

const (
	MaxShards      = 64
	MaxCapacity    = 1000
	MaxNameLen     = 64
	MaxDescription = 512
)

// Defaults are node-level settings applied to fields a tournament leaves zero.
type Defaults struct {
	Capacity          int
	ShardPolicy       throttle.Policy
	LeaderboardPolicy throttle.Policy
}

type Params struct {
	Name        string
	Description string
	Host        string
	Window      timing.Window
	ShardCount  int
	Capacity    int

	ShardPolicy       throttle.Policy
	LeaderboardPolicy throttle.Policy
}

// Descriptor is immutable after creation except for its name, description and
// Window.End. The end only ever moves earlier.
type Descriptor struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Host        string        `json:"host"`
	Window      timing.Window `json:"window"`
	Leaderboard chain.ID      `json:"leaderboard"`
	Shards      []chain.ID    `json:"shards"`
	Capacity    int           `json:"capacity"`
	CreatedAt   uint64        `json:"createdAt"`

	ShardPolicy       throttle.Policy `json:"shardPolicy"`
	LeaderboardPolicy throttle.Policy `json:"leaderboardPolicy"`
}

// Create validates p and allocates shard chain ids for tournament id.
func Create(id string, p Params, d Defaults, now uint64) (*Descriptor, error) {
	if id == "" {
		return nil, types.ErrInvalidRequest.Wrap("missing tournament id")
	}
	if p.Host == "" {
		return nil, types.ErrInvalidRequest.Wrap("missing host")
	}
	name, err := validName(p.Name)
	if err != nil {
		return nil, err
	}
	if err := validDescription(p.Description); err != nil {
		return nil, err
	}
	if err := p.Window.Validate(); err != nil {
		return nil, err
	}
	if p.ShardCount < 1 || p.ShardCount > MaxShards {
		return nil, types.ErrInvalidRequest.Wrapf("shardCount must be 1..%d", MaxShards)
	}
	capacity := p.Capacity
	if capacity == 0 {
		capacity = d.Capacity
	}
	if capacity == 0 {
		capacity = ranking.DefaultCapacity
	}
	if capacity < 1 || capacity > MaxCapacity {
		return nil, types.ErrInvalidRequest.Wrapf("capacity must be 1..%d", MaxCapacity)
	}

	desc := &Descriptor{
		ID:                id,
		Name:              name,
		Description:       p.Description,
		Host:              p.Host,
		Window:            p.Window,
		Leaderboard:       chain.LeaderboardChain(id),
		Capacity:          capacity,
		CreatedAt:         now,
		ShardPolicy:       p.ShardPolicy.Normalize(d.ShardPolicy),
		LeaderboardPolicy: p.LeaderboardPolicy.Normalize(d.LeaderboardPolicy),
	}
	desc.Shards = make([]chain.ID, p.ShardCount)
	for i := range desc.Shards {
		desc.Shards[i] = chain.ShardChain(id, i)
	}
	return desc, nil
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > MaxNameLen {
		return "", types.ErrInvalidRequest.Wrapf("name must be 1..%d bytes", MaxNameLen)
	}
	return name, nil
}

func validDescription(desc string) error {
	if len(desc) > MaxDescription {
		return types.ErrInvalidRequest.Wrapf("description longer than %d bytes", MaxDescription)
	}
	return nil
}

// IsActive delegates to the shared window predicate.
func (d *Descriptor) IsActive(ts uint64) bool {
	return d.Window.IsActive(ts)
}

// ShardFor assigns player to a shard. Every board of one player in one tournament
// reports to the same shard.
func (d *Descriptor) ShardFor(player string) chain.ID {
	if len(d.Shards) == 0 {
		return ""
	}
	i := rng.RangePick(rng.Seed(d.ID, player, 0), 0, uint64(len(d.Shards)))
	return d.Shards[i]
}

func (d *Descriptor) HasShard(id chain.ID) bool {
	for _, s := range d.Shards {
		if s == id {
			return true
		}
	}
	return false
}

// EndAt closes the window at ts. It never reopens or extends a window.
func (d *Descriptor) EndAt(ts uint64) error {
	if d.Window.Ended(ts) {
		return types.ErrWindowClosed.Wrapf("tournament %s already ended", d.ID)
	}
	start := d.Window.Start
	if ts <= start {
		// A window that has not started yet collapses to [start, start+1).
		ts = start + 1
	}
	d.Window = timing.Window{Start: start, End: ts}
	return nil
}

// Update holds the editable fields of a tournament. Nil fields and a zero End are
// left unchanged.
type Update struct {
	Name        *string
	Description *string
	End         uint64
}

// Apply edits d at block time now. End may only shrink the window and may not
// fall before now. Nothing is changed when any field is rejected.
func (d *Descriptor) Apply(u Update, now uint64) error {
	name, desc, w := d.Name, d.Description, d.Window
	if u.Name != nil {
		n, err := validName(*u.Name)
		if err != nil {
			return err
		}
		name = n
	}
	if u.Description != nil {
		if err := validDescription(*u.Description); err != nil {
			return err
		}
		desc = *u.Description
	}
	if u.End != 0 {
		if w.Ended(now) {
			return types.ErrWindowClosed.Wrapf("tournament %s already ended", d.ID)
		}
		if !w.Unbounded() && u.End >= w.End {
			return types.ErrInvalidRequest.Wrapf("end %d does not shrink the window ending at %d", u.End, w.End)
		}
		if u.End < now {
			return types.ErrInvalidRequest.Wrapf("end %d is before block time %d", u.End, now)
		}
		w = timing.Window{Start: w.Start, End: u.End}
		if err := w.Validate(); err != nil {
			return err
		}
	}
	d.Name, d.Description, d.Window = name, desc, w
	return nil
}
