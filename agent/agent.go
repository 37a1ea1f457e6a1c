package main

import (
	"context"
	"encoding/json"
	"log/slog"

	"collabtext/crdt"
	"collabtext/persist"
	"collabtext/replica"
	"collabtext/session"
)

// agent is a local peer: one document shared with browser tabs on /ws and other agents on /peer.
type agent struct {
	docID  string
	sess   *session.Session
	log    persist.Log
	ui     *replica.Hub
	peers  *replica.Hub
	out    chan crdt.Update
	logger *slog.Logger
}

func newAgent(docID string, sess *session.Session, log persist.Log, logger *slog.Logger) *agent {
	a := &agent{
		docID:  docID,
		sess:   sess,
		log:    log,
		out:    make(chan crdt.Update, 1024),
		logger: logger.With("doc", docID),
	}
	a.ui = replica.NewHub(replica.HubOptions{
		OnMessage: a.fromUI,
		OnJoin:    a.uiState,
		Logger:    a.logger.With("hub", "ui"),
	})
	a.peers = replica.NewHub(replica.HubOptions{
		OnMessage: a.fromPeer,
		OnJoin:    a.peerState,
		Logger:    a.logger.With("hub", "peers"),
	})
	sess.OnUpdate(func(u crdt.Update) { a.out <- u })
	return a
}

// start runs the hubs and the outgoing pump until ctx is done.
func (a *agent) start(ctx context.Context) {
	go a.ui.Run(ctx)
	go a.peers.Run(ctx)
	go a.pump(ctx)
}

// pump persists local updates and sends them to every connected peer.
func (a *agent) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-a.out:
			if u.Empty() {
				continue
			}
			if err := a.log.Append(ctx, a.docID, u); err != nil {
				a.logger.Error("failed to save update", "error", err)
			}
			raw, err := json.Marshal(u)
			if err != nil {
				a.logger.Error("encode update", "error", err)
				continue
			}
			a.peers.Broadcast(raw, nil)
		}
	}
}

func (a *agent) fromUI(c *replica.Client, msg []byte) {
	var op Op
	if err := json.Unmarshal(msg, &op); err != nil {
		a.logger.Warn("error decoding op", "error", err)
		return
	}
	id, err := applyOp(a.sess, op)
	view := viewOf(a.sess)
	view.ClientID = op.ClientID
	view.Created = id
	if err != nil {
		a.logger.Warn("op rejected", "action", op.Action, "error", err)
		view.Error = err.Error()
		a.ui.Send(c, encodeView(view))
		return
	}
	a.ui.Broadcast(encodeView(view), nil)
}

func (a *agent) fromPeer(_ *replica.Client, msg []byte) {
	var u crdt.Update
	if err := json.Unmarshal(msg, &u); err != nil {
		a.logger.Warn("error decoding update", "error", err)
		return
	}
	if u.Empty() {
		return
	}
	if err := a.sess.Merge(u); err != nil {
		a.logger.Warn("rejected peer update", "peer", u.Peer, "error", err)
		return
	}
	if err := a.log.Append(context.Background(), a.docID, u); err != nil {
		a.logger.Error("failed to save update", "error", err)
	}
	a.ui.Broadcast(encodeView(viewOf(a.sess)), nil)
}

func (a *agent) uiState() [][]byte {
	return [][]byte{encodeView(viewOf(a.sess))}
}

func (a *agent) peerState() [][]byte {
	var msgs [][]byte
	for _, u := range a.sess.State() {
		raw, err := json.Marshal(u)
		if err != nil {
			a.logger.Error("encode state", "error", err)
			return nil
		}
		msgs = append(msgs, raw)
	}
	return msgs
}

func encodeView(v View) []byte {
	raw, _ := json.Marshal(v)
	return raw
}
