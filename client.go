// Package nmeshed is the client-side synchronization library for a
// shared key-value workspace: local writes apply immediately, remote
// deltas merge under a configurable resolution policy, and the
// connection to the relay server reconnects automatically with
// jittered backoff while offline writes queue for replay.
//
// The composition here follows the donor's server.go/runtimeSetup.go
// style: construct every subsystem up front, wire their callbacks
// together, and expose a thin facade — scaled down from an HTTP server
// bootstrap to a library constructor.
package nmeshed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nmeshed/nmeshed-go/internal/codec"
	"github.com/nmeshed/nmeshed-go/internal/config"
	"github.com/nmeshed/nmeshed-go/internal/connmgr"
	"github.com/nmeshed/nmeshed-go/internal/engine"
	"github.com/nmeshed/nmeshed-go/internal/queue"
	"github.com/nmeshed/nmeshed-go/internal/wire"
	"github.com/nmeshed/nmeshed-go/pkg/log"
)

// AuthProvider supplies a bearer token at connect time, as an
// alternative to a static configured token.
type AuthProvider interface {
	Token(ctx context.Context) (string, error)
}

// PresenceListener receives ephemeral Signal payloads from peers.
type PresenceListener func(payload []byte, senderID string, hasSender bool)

// QueueListener receives queue size changes and overflow events.
type QueueListener func(size int)

// OverflowListener receives one notification per evicted queue entry.
type OverflowListener func(bound int)

// Client is the library's single entry point.
type Client struct {
	opts config.Options

	engine *engine.Engine
	queue  *queue.Queue
	conn   *connmgr.Manager

	auth AuthProvider
}

// New validates rawConfig, constructs every subsystem, and wires them
// together. The Store is live immediately — Set/Get/Delete work before
// Connect is ever called (design note: "drop the pre-connect
// dictionary entirely").
func New(rawConfig json.RawMessage, auth AuthProvider, newTransport connmgr.TransportFactory, persister queue.Persister, mergeCore engine.MergeCore) (*Client, error) {
	opts, err := config.Parse(rawConfig, auth != nil)
	if err != nil {
		return nil, err
	}

	eng := engine.New(opts.WorkspaceID, engine.SyncMode(opts.SyncMode), mergeCore)
	q := queue.New(opts.WorkspaceID, opts.MaxQueueSize, persister)

	c := &Client{opts: opts, engine: eng, queue: q, auth: auth}

	cfg := connmgr.Config{
		ServerURL:            opts.ServerURL,
		WorkspaceID:          opts.WorkspaceID,
		Token:                opts.Token,
		UserID:               opts.UserID,
		SyncMode:             opts.SyncMode,
		AutoReconnect:        opts.AutoReconnect,
		MaxReconnectAttempts: opts.MaxReconnectAttempts,
		ReconnectBaseDelay:   opts.ReconnectBaseDelay(),
		MaxReconnectDelay:    opts.MaxReconnectDelay(),
		ConnectionTimeout:    opts.ConnectionTimeout(),
		HeartbeatInterval:    opts.HeartbeatInterval(),
		Debug:                opts.Debug,
	}

	mgr, err := connmgr.New(cfg, newTransport, c.handleFrame, q)
	if err != nil {
		return nil, fmt.Errorf("nmeshed: %w", err)
	}
	c.conn = mgr

	return c, nil
}

func (c *Client) handleFrame(frame []byte) connmgr.FrameResult {
	switch c.engine.MergeRemote(frame) {
	case engine.ResultOp:
		return connmgr.FrameOp
	case engine.ResultInit:
		return connmgr.FrameInit
	case engine.ResultSignal:
		return connmgr.FrameSignal
	default:
		return connmgr.FrameIgnored
	}
}

// resolveToken prefers a live AuthProvider over a static token, per
// config's "exactly one of token or auth provider" contract.
func (c *Client) resolveToken(ctx context.Context) (string, error) {
	if c.auth != nil {
		return c.auth.Token(ctx)
	}
	return c.opts.Token, nil
}

// Set encodes value and writes it, read-your-writes, regardless of
// connection status; it is queued for delivery if not yet Ready.
func (c *Client) Set(key string, value codec.Value, timestamp int64) error {
	encoded, err := codec.Encode(value)
	if err != nil {
		return err
	}
	return c.setBytes(key, encoded, timestamp)
}

func (c *Client) setBytes(key string, encoded []byte, timestamp int64) error {
	packet, err := c.engine.ApplyLocal(key, encoded, timestamp)
	if err != nil {
		return err
	}
	c.conn.SendOp(key, packet, timestamp)
	return nil
}

// Delete is Set with an empty value, which the Engine treats as a
// tombstone.
func (c *Client) Delete(key string, timestamp int64) error {
	return c.setBytes(key, nil, timestamp)
}

// Get returns the decoded current value for key, if any.
func (c *Client) Get(key string) (codec.Value, bool, error) {
	raw, ok := c.engine.Get(key)
	if !ok {
		return codec.Value{}, false, nil
	}
	v, err := codec.Decode(raw)
	if err != nil {
		return codec.Value{}, false, err
	}
	return v, true, nil
}

// AllValues returns every key's decoded value.
func (c *Client) AllValues() (map[string]codec.Value, error) {
	out := make(map[string]codec.Value)
	for k, raw := range c.engine.AllValues() {
		v, err := codec.Decode(raw)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// Connect establishes the session; if a token needs to be fetched from
// an AuthProvider first, that happens here before dialing.
func (c *Client) Connect(ctx context.Context) error {
	token, err := c.resolveToken(ctx)
	if err != nil {
		return fmt.Errorf("nmeshed: auth provider failed: %w", err)
	}
	c.conn.SetToken(token)
	return c.conn.Connect(ctx)
}

// Disconnect tears down the current session but leaves the client
// reusable via a later Connect.
func (c *Client) Disconnect() {
	c.conn.Disconnect()
}

// Destroy disconnects permanently; subsequent Connect calls fail.
func (c *Client) Destroy() {
	c.conn.Destroy()
}

// Broadcast sends an ephemeral Signal frame, dropping it with a
// warning if the session is not Ready.
func (c *Client) Broadcast(payload []byte) error {
	frame := wire.EncodeSignal(c.opts.UserID, payload)
	if err := c.conn.Broadcast(frame); err != nil {
		log.Warnf("nmeshed: broadcast dropped: %s", err)
		return err
	}
	return nil
}

// Status returns the current connection status.
func (c *Client) Status() connmgr.Status {
	return c.conn.Status()
}

// OnStatus subscribes to status transitions, invoked immediately with
// the current status.
func (c *Client) OnStatus(l connmgr.StatusListener) func() {
	return c.conn.OnStatus(l)
}

// OnOp subscribes to local and remote key writes.
func (c *Client) OnOp(l engine.OpListener) func() {
	return c.engine.OnOp(l)
}

// OnPresence subscribes to ephemeral Signal frames from peers.
func (c *Client) OnPresence(l PresenceListener) func() {
	return c.engine.OnEphemeral(func(payload []byte, from string, hasFrom bool) {
		l(payload, from, hasFrom)
	})
}

// OnBroadcast is an alias for OnPresence: both observe Signal frames,
// distinguished only by caller intent.
func (c *Client) OnBroadcast(l PresenceListener) func() {
	return c.OnPresence(l)
}

// OnQueue subscribes to queue size changes.
func (c *Client) OnQueue(l QueueListener) func() {
	return c.queue.OnChange(func(size int) { l(size) })
}

// OnQueueOverflow subscribes to queue overflow evictions.
func (c *Client) OnQueueOverflow(l OverflowListener) func() {
	return c.queue.OnOverflow(func(ev queue.OverflowEvent) { l(ev.Bound) })
}

// OnSyncAck subscribes to ack sequences carried on inbound Sync
// packets. It is advisory only — a drain checkpoint hint alongside
// the queue subscribers above, never required for correctness.
func (c *Client) OnSyncAck(l func(ackSeq uint64)) func() {
	return c.engine.OnAck(l)
}
