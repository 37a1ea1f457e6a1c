package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"collabtext/annotation"
	"collabtext/crdt"
	"collabtext/persist"
	"collabtext/replica"
	"collabtext/session"
)

// Relay carries updates to other server instances.
type Relay interface {
	Publish(ctx context.Context, docID string, u crdt.Update) error
	Subscribe(ctx context.Context, docID string, fn func(crdt.Update)) error
}

// outbound is one update on its way out of a document.
type outbound struct {
	update crdt.Update
	except *replica.Client
	// store and publish are false for updates that arrived over the relay.
	store   bool
	publish bool
}

// document is one live headless replica with its websocket clients.
type document struct {
	id      string
	session *session.Session
	hub     *replica.Hub
	out     chan outbound
	logger  *slog.Logger
}

// documents opens documents on first use and keeps them for the life of the server.
type documents struct {
	ctx    context.Context
	mu     sync.Mutex
	docs   map[string]*document
	log    persist.Log
	relay  Relay
	peer   string
	opts   session.Options
	logger *slog.Logger
}

func newDocuments(ctx context.Context, log persist.Log, relay Relay, peer string, opts session.Options) *documents {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &documents{
		ctx:    ctx,
		docs:   make(map[string]*document),
		log:    log,
		relay:  relay,
		peer:   peer,
		opts:   opts,
		logger: opts.Logger,
	}
}

// get returns the live document for id, replaying its log the first time it is asked for.
func (ds *documents) get(id string) (*document, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if d, ok := ds.docs[id]; ok {
		return d, nil
	}

	sess := session.New(crdt.NewDoc(ds.peer), ds.opts)
	n, err := persist.Replay(ds.ctx, ds.log, id, sess)
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("open document %s: %w", id, err)
	}

	d := &document{
		id:      id,
		session: sess,
		out:     make(chan outbound, 1024),
		logger:  ds.logger.With("doc", id),
	}
	d.hub = replica.NewHub(replica.HubOptions{
		OnMessage: d.receive,
		OnJoin:    d.state,
		Logger:    d.logger,
	})
	sess.OnUpdate(func(u crdt.Update) {
		d.out <- outbound{update: u, store: true, publish: true}
	})

	go d.hub.Run(ds.ctx)
	go d.pump(ds.ctx, ds.log, ds.relay)
	if ds.relay != nil {
		go func() {
			err := ds.relay.Subscribe(ds.ctx, id, d.relayed)
			if err != nil && ds.ctx.Err() == nil {
				d.logger.Error("relay subscription ended", "error", err)
			}
		}()
	}

	ds.docs[id] = d
	d.logger.Info("document opened", "replayed", n, "annotations", len(sess.Overlay()))
	return d, nil
}

// receive handles an update sent by a websocket client.
func (d *document) receive(c *replica.Client, msg []byte) {
	var u crdt.Update
	if err := json.Unmarshal(msg, &u); err != nil {
		d.logger.Warn("error decoding update", "error", err)
		return
	}
	if err := d.session.Merge(u); err != nil {
		d.logger.Warn("rejected client update", "peer", u.Peer, "error", err)
		return
	}
	d.out <- outbound{update: u, except: c, store: true, publish: true}
}

// relayed handles an update published by another server instance.
func (d *document) relayed(u crdt.Update) {
	if err := d.session.Merge(u); err != nil {
		d.logger.Warn("rejected relayed update", "peer", u.Peer, "error", err)
		return
	}
	d.out <- outbound{update: u}
}

// state returns the messages that bring a new client up to date.
func (d *document) state() [][]byte {
	var msgs [][]byte
	for _, u := range d.session.State() {
		raw, err := json.Marshal(u)
		if err != nil {
			d.logger.Error("encode state", "error", err)
			return nil
		}
		msgs = append(msgs, raw)
	}
	return msgs
}

// pump stores, broadcasts and publishes outgoing updates in order. It never takes the
// session lock, so session callbacks may block on it.
func (d *document) pump(ctx context.Context, log persist.Log, relay Relay) {
	for {
		select {
		case <-ctx.Done():
			return
		case ob := <-d.out:
			if ob.update.Empty() {
				continue
			}
			if ob.store {
				if err := log.Append(ctx, d.id, ob.update); err != nil {
					d.logger.Error("failed to save update", "error", err)
				}
			}
			raw, err := json.Marshal(ob.update)
			if err != nil {
				d.logger.Error("encode update", "error", err)
				continue
			}
			d.hub.Broadcast(raw, ob.except)
			if ob.publish && relay != nil {
				if err := relay.Publish(ctx, d.id, ob.update); err != nil {
					d.logger.Warn("error publishing to relay", "error", err)
				}
			}
		}
	}
}

// view returns the document text and its current annotation spans.
func (d *document) view() (string, annotation.Overlay) {
	return d.session.Text(), d.session.Overlay()
}
