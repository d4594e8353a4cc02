// Package natstransport implements transport.Transporter over NATS
// core pub/sub, adapted directly from pkg/nats's connection wrapper:
// a workspace is mapped to a pair of subjects (inbound/outbound)
// rather than a single bidirectional socket.
package natstransport

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/nmeshed/nmeshed-go/internal/transport"
	"github.com/nmeshed/nmeshed-go/pkg/log"
)

// Options configures subject naming and auth for one session.
type Options struct {
	Username      string
	Password      string
	CredsFilePath string
	// Subject returns the (publish, subscribe) subject pair for a
	// workspace. Defaults to "nmeshed.<id>.out" / "nmeshed.<id>.in".
	Subject func(workspaceID string) (pub, sub string)
}

func defaultSubjects(workspaceID string) (string, string) {
	return "nmeshed." + workspaceID + ".out", "nmeshed." + workspaceID + ".in"
}

// Transport is a transport.Transporter backed by one NATS connection.
// The "url" passed to Open is the NATS server address; the workspace
// id is threaded through Options.Subject (set by the caller before
// Open, since transport.Transporter's Open signature carries only a
// URL).
type Transport struct {
	opts Options
	conn *nats.Conn
	sub  *nats.Subscription

	pubSubject string
	subSubject string
}

func New(opts Options, workspaceID string) *Transport {
	if opts.Subject == nil {
		opts.Subject = defaultSubjects
	}
	pub, sub := opts.Subject(workspaceID)
	return &Transport{opts: opts, pubSubject: pub, subSubject: sub}
}

func (t *Transport) Open(ctx context.Context, url string, onMessage transport.MessageHandler, onClose transport.CloseHandler) error {
	var dialOpts []nats.Option
	if t.opts.Username != "" && t.opts.Password != "" {
		dialOpts = append(dialOpts, nats.UserInfo(t.opts.Username, t.opts.Password))
	}
	if t.opts.CredsFilePath != "" {
		dialOpts = append(dialOpts, nats.UserCredentials(t.opts.CredsFilePath))
	}
	dialOpts = append(dialOpts, nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
		if err != nil {
			log.Warnf("natstransport: disconnected: %s", err)
		}
	}))
	dialOpts = append(dialOpts, nats.ClosedHandler(func(_ *nats.Conn) {
		onClose(transport.CloseInfo{Code: 0, Reason: "nats connection closed"})
	}))

	nc, err := nats.Connect(url, dialOpts...)
	if err != nil {
		return fmt.Errorf("natstransport: connect failed: %w", err)
	}
	t.conn = nc

	sub, err := nc.Subscribe(t.subSubject, func(msg *nats.Msg) {
		onMessage(msg.Data)
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("natstransport: subscribe failed: %w", err)
	}
	t.sub = sub

	log.Infof("natstransport: connected to %s, subject %s", url, t.pubSubject)
	return nil
}

func (t *Transport) Send(frame []byte) error {
	if t.conn == nil {
		return fmt.Errorf("natstransport: send before open")
	}
	return t.conn.Publish(t.pubSubject, frame)
}

func (t *Transport) Close(code int, reason string) error {
	if t.sub != nil {
		if err := t.sub.Unsubscribe(); err != nil {
			log.Warnf("natstransport: unsubscribe failed: %s", err)
		}
	}
	if t.conn != nil {
		// Detach onClose before closing so a local close never reaches it.
		t.conn.SetClosedHandler(nil)
		t.conn.Close()
	}
	return nil
}
