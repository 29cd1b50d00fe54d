// Package chain is the message substrate between logical chains hosted by one
// node. Every chain processes its inbox serially; sending is fire-and-forget.
//
// Guarantees: FIFO from one sender to one recipient, no ordering across senders,
// delivery strictly after the sending handler returns. Delivery order is fully
// determined by state (recipients in id order, FIFO within an inbox) so every
// replica drains identically.
package chain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

type ID string

const (
	playerPrefix      = "player/"
	leaderboardPrefix = "leaderboard/"
	shardInfix        = "/shard/"
)

func PlayerChain(player string) ID { return ID(playerPrefix + player) }

func LeaderboardChain(tournamentID string) ID { return ID(leaderboardPrefix + tournamentID) }

func ShardChain(tournamentID string, index int) ID {
	return ID(fmt.Sprintf("%s%s%s%d", leaderboardPrefix, tournamentID, shardInfix, index))
}

// Role classifies a chain id by its prefix.
func (id ID) Role() string {
	s := string(id)
	switch {
	case strings.HasPrefix(s, playerPrefix):
		return "player"
	case strings.HasPrefix(s, leaderboardPrefix) && strings.Contains(s, shardInfix):
		return "shard"
	case strings.HasPrefix(s, leaderboardPrefix):
		return "leaderboard"
	default:
		return "unknown"
	}
}

// Tournament is the tournament a leaderboard or shard chain belongs to, "" for
// other roles.
func (id ID) Tournament() string {
	s := string(id)
	if !strings.HasPrefix(s, leaderboardPrefix) {
		return ""
	}
	s = strings.TrimPrefix(s, leaderboardPrefix)
	if i := strings.Index(s, shardInfix); i >= 0 {
		return s[:i]
	}
	return s
}

type Message struct {
	Seq     uint64          `json:"seq"`
	From    ID              `json:"from"`
	To      ID              `json:"to"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	SentAt  uint64          `json:"sentAt"`
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Kind, err)
	}
	return nil
}

// Anomaly records a message that was dropped by its handler.
type Anomaly struct {
	Seq    uint64 `json:"seq"`
	From   ID     `json:"from"`
	To     ID     `json:"to"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
	At     uint64 `json:"at"`
}

type Mailbox struct {
	NextSeq   uint64           `json:"nextSeq"`
	Delivered uint64           `json:"delivered"`
	Inboxes   map[ID][]Message `json:"inboxes"`
}

func NewMailbox() *Mailbox {
	return &Mailbox{Inboxes: map[ID][]Message{}}
}

// Send enqueues payload for to and returns the enqueued message.
func (m *Mailbox) Send(from, to ID, kind string, payload any, now uint64) (Message, error) {
	if to == "" {
		return Message{}, fmt.Errorf("send %s: empty recipient", kind)
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	if m.Inboxes == nil {
		m.Inboxes = map[ID][]Message{}
	}
	m.NextSeq++
	msg := Message{Seq: m.NextSeq, From: from, To: to, Kind: kind, Payload: b, SentAt: now}
	m.Inboxes[to] = append(m.Inboxes[to], msg)
	return msg, nil
}

// Redeliver enqueues msg again unchanged. The substrate is at-least-once; handlers
// must tolerate this.
func (m *Mailbox) Redeliver(msg Message) {
	if m.Inboxes == nil {
		m.Inboxes = map[ID][]Message{}
	}
	m.Inboxes[msg.To] = append(m.Inboxes[msg.To], msg)
}

func (m *Mailbox) Pending() int {
	n := 0
	for _, q := range m.Inboxes {
		n += len(q)
	}
	return n
}

// Recipients returns chain ids with queued messages, sorted.
func (m *Mailbox) Recipients() []ID {
	ids := make([]ID, 0, len(m.Inboxes))
	for id, q := range m.Inboxes {
		if len(q) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Handler processes one delivered message. A returned error drops the message.
type Handler func(Message) error

// Drain delivers queued messages in rounds until the mailbox is empty or maxRounds
// is reached. Messages sent while handling are delivered in a later round. Handler
// errors and panics never stop the drain; they are returned as anomalies.
func (m *Mailbox) Drain(h Handler, maxRounds int, now uint64) (delivered int, anomalies []Anomaly) {
	if maxRounds <= 0 {
		maxRounds = 1
	}
	for round := 0; round < maxRounds; round++ {
		ids := m.Recipients()
		if len(ids) == 0 {
			return delivered, anomalies
		}
		for _, id := range ids {
			batch := m.Inboxes[id]
			delete(m.Inboxes, id)
			for _, msg := range batch {
				delivered++
				m.Delivered++
				if err := safeHandle(h, msg); err != nil {
					anomalies = append(anomalies, Anomaly{
						Seq: msg.Seq, From: msg.From, To: msg.To, Kind: msg.Kind,
						Reason: err.Error(), At: now,
					})
				}
			}
		}
	}
	return delivered, anomalies
}

func safeHandle(h Handler, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(msg)
}

// Sender is the send side of the substrate as seen by chain logic.
type Sender interface {
	Send(from, to ID, kind string, payload any, now uint64) (Message, error)
}
