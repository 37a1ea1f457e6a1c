package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"
)

const docTXTPrefix = "doc="

// dialFunc connects to a peer and returns a channel closed when the link drops.
type dialFunc func(ctx context.Context, url string) (<-chan struct{}, error)

// discovery announces this agent over mDNS and links to every other agent sharing its document.
// Of each pair, only the instance whose name sorts first dials, so a pair has one link.
type discovery struct {
	instance string
	service  string
	docID    string
	port     int
	dial     dialFunc
	logger   *slog.Logger
	// redialFor bounds how long a dropped or failing link is retried before the peer is
	// forgotten until it is discovered again.
	redialFor time.Duration

	mu     sync.Mutex
	dialed map[string]bool
}

func newDiscovery(instance, service, docID string, port int, dial dialFunc, logger *slog.Logger) *discovery {
	return &discovery{
		instance:  instance,
		service:   service,
		docID:     docID,
		port:      port,
		dial:      dial,
		logger:    logger,
		redialFor: time.Minute,
		dialed:    make(map[string]bool),
	}
}

// run registers the service and browses for peers until ctx is done.
func (d *discovery) run(ctx context.Context) error {
	server, err := zeroconf.Register(d.instance, d.service, "local.", d.port, []string{"txtv=0", docTXTPrefix + d.docID}, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}
	defer server.Shutdown()
	d.logger.Info("mDNS service registered", "service", d.service, "port", d.port)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("failed to initialize mDNS resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for entry := range entries {
			d.found(ctx, entry)
		}
	}()
	if err := resolver.Browse(ctx, d.service, "local.", entries); err != nil {
		return fmt.Errorf("failed to browse for mDNS services: %w", err)
	}
	<-ctx.Done()
	d.logger.Info("mDNS browsing finished")
	return nil
}

func (d *discovery) found(ctx context.Context, entry *zeroconf.ServiceEntry) {
	if entry.Instance == d.instance || len(entry.AddrIPv4) == 0 {
		return
	}
	if doc := txtDoc(entry.Text); doc != d.docID {
		d.logger.Debug("ignoring peer on another document", "peer", entry.Instance, "doc", doc)
		return
	}
	if entry.Instance < d.instance {
		d.logger.Debug("waiting for peer to dial", "peer", entry.Instance)
		return
	}
	url := peerURL(entry.AddrIPv4[0], entry.Port)
	if !d.claim(url) {
		return
	}
	d.logger.Info("mDNS discovered peer", "peer", entry.Instance, "url", url)
	go d.link(ctx, url)
}

// link keeps a connection to url open, redialing with backoff whenever it drops. The claim on
// url is released when redialing gives up or ctx ends.
func (d *discovery) link(ctx context.Context, url string) {
	defer d.release(url)
	for {
		var closed <-chan struct{}
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = d.redialFor
		err := backoff.Retry(func() error {
			c, err := d.dial(ctx, url)
			closed = c
			return err
		}, backoff.WithContext(b, ctx))
		if err != nil {
			if ctx.Err() == nil {
				d.logger.Warn("could not connect to peer", "url", url, "error", err)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-closed:
			d.logger.Info("peer link closed, redialing", "url", url)
		}
	}
}

// claim marks url as dialed and reports whether it was not already.
func (d *discovery) claim(url string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialed[url] {
		return false
	}
	d.dialed[url] = true
	return true
}

func (d *discovery) release(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.dialed, url)
}

func txtDoc(txt []string) string {
	for _, t := range txt {
		if strings.HasPrefix(t, docTXTPrefix) {
			return strings.TrimPrefix(t, docTXTPrefix)
		}
	}
	return ""
}

func peerURL(ip net.IP, port int) string {
	return fmt.Sprintf("ws://%s/peer", net.JoinHostPort(ip.String(), fmt.Sprint(port)))
}

// dialPeer connects to a peer agent and attaches the connection to the agent's peer hub.
func (a *agent) dialPeer(ctx context.Context, url string) (<-chan struct{}, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := a.peers.Attach(conn)
	if c == nil {
		return nil, context.Canceled
	}
	return c.Done(), nil
}
