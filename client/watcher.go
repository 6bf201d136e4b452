// Copyright 2024 Google LLC. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	ct "github.com/saarsec/certified-transparency"
	"k8s.io/klog/v2"
)

// WatchOptions controls the keepalive of a watch connection.
type WatchOptions struct {
	// PingInterval is the time between two pings sent to the monitor.
	PingInterval time.Duration
	// ReadTimeout bounds the time the monitor may stay silent, answering
	// neither with a message nor with a pong.
	ReadTimeout time.Duration
}

// DefaultWatchOptions returns the keepalive settings used by NewMonitor.
func DefaultWatchOptions() WatchOptions {
	return WatchOptions{
		PingInterval: 15 * time.Second,
		ReadTimeout:  32 * time.Second,
	}
}

// Notification is a decoded message from the watch stream: a leaf that was
// appended to the log.
type Notification struct {
	Index uint64
	Leaf  []byte // raw TreeLeaf bytes
}

// Watcher is an open subscription to the monitor's stream of new leaves.
// Only notifications for leaves appended after Watch returned are
// guaranteed to be delivered. Next must not be called concurrently.
type Watcher struct {
	conn     *websocket.Conn
	endpoint string
	opts     WatchOptions

	stop      chan struct{}
	closeOnce sync.Once
	pinger    sync.WaitGroup

	// mu guards the read deadline against concurrent cancellation.
	mu        sync.Mutex
	limit     time.Time // deadline of the current Next call, if any
	cancelled bool
}

// watchURL maps the http(s) base URI of the monitor to the ws(s) URL of the
// watch endpoint.
func watchURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + ct.WatchPath
	return u.String(), nil
}

// Watch opens the websocket stream of new leaves. The returned Watcher
// must be closed by the caller.
func (c *MonitorClient) Watch(ctx context.Context) (*Watcher, error) {
	wsURL, err := watchURL(c.BaseURI())
	if err != nil {
		return nil, &ct.TransportError{Endpoint: ct.WatchPath, Err: err}
	}
	klog.V(2).Infof("WATCH %s", wsURL)
	dialer := &websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: c.watchOpts.ReadTimeout,
	}
	conn, rsp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if rsp != nil {
			return nil, &ct.ProtocolError{Endpoint: ct.WatchPath, StatusCode: rsp.StatusCode, Err: err}
		}
		return nil, &ct.TransportError{Endpoint: ct.WatchPath, Err: err}
	}
	w := &Watcher{
		conn:     conn,
		endpoint: ct.WatchPath,
		opts:     c.watchOpts,
		stop:     make(chan struct{}),
	}
	conn.SetPongHandler(func(string) error {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.cancelled {
			return nil
		}
		return w.conn.SetReadDeadline(w.readDeadline())
	})
	w.pinger.Add(1)
	go w.ping()
	return w, nil
}

func (w *Watcher) ping() {
	defer w.pinger.Done()
	ticker := time.NewTicker(w.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(w.opts.PingInterval)
			if err := w.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				klog.V(1).Infof("%s: ping failed: %v", w.endpoint, err)
				return
			}
		}
	}
}

// Close stops the keepalive and closes the connection.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.stop)
		w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = w.conn.Close()
		w.pinger.Wait()
	})
	return err
}

// Next waits for the next notification. A message that arrives but does
// not decode yields a *ct.ProtocolError and leaves the Watcher usable; a
// failed read, including a timeout or the cancellation of ctx, yields a
// *ct.TransportError after which the Watcher can only be closed.
func (w *Watcher) Next(ctx context.Context) (*Notification, error) {
	limit, _ := ctx.Deadline()
	w.mu.Lock()
	w.limit = limit
	w.cancelled = false
	err := w.conn.SetReadDeadline(w.readDeadline())
	w.mu.Unlock()
	if err != nil {
		return nil, &ct.TransportError{Endpoint: w.endpoint, Err: err}
	}
	stop := context.AfterFunc(ctx, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.cancelled = true
		w.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := w.conn.ReadMessage()
	if err != nil {
		ctxErr := ctx.Err()
		if ctxErr == nil && !limit.IsZero() && !time.Now().Before(limit) {
			// The read deadline can fire before the context notices.
			ctxErr = context.DeadlineExceeded
		}
		if ctxErr != nil {
			err = fmt.Errorf("%w (%v)", ctxErr, err)
		}
		return nil, &ct.TransportError{Endpoint: w.endpoint, Err: err}
	}
	klog.V(3).Infof("%s: message: %s", w.endpoint, data)
	return decodeNotification(w.endpoint, data)
}

// readDeadline returns the read deadline for a wait starting now. w.mu must
// be held.
func (w *Watcher) readDeadline() time.Time {
	deadline := time.Now().Add(w.opts.ReadTimeout)
	if !w.limit.IsZero() && w.limit.Before(deadline) {
		return w.limit
	}
	return deadline
}

func decodeNotification(endpoint string, data []byte) (*Notification, error) {
	var msg ct.NewLeafMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &ct.ProtocolError{Endpoint: endpoint, Body: data, Err: fmt.Errorf("failed to parse JSON: %v", err)}
	}
	if msg.Index == nil {
		return nil, &ct.ProtocolError{Endpoint: endpoint, Field: "index", Body: data, Err: errors.New("missing field")}
	}
	leaf, err := decodeB64(endpoint, "leaf", msg.Leaf)
	if err != nil {
		return nil, err
	}
	return &Notification{Index: *msg.Index, Leaf: leaf}, nil
}

// WaitForEntry reads notifications until one reports the leaf at index
// with the given content hash, and returns that leaf. Notifications that do
// not decode, or are about other leaves, are logged and skipped. If no
// matching notification arrives within timeout the result is a
// *ct.NotificationTimeoutError.
func (w *Watcher) WaitForEntry(ctx context.Context, index uint64, contentHash ct.Hash, timeout time.Duration) (*ct.TreeLeaf, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	deadline, _ := waitCtx.Deadline()
	for {
		n, err := w.Next(waitCtx)
		if err != nil {
			var perr *ct.ProtocolError
			if errors.As(err, &perr) {
				klog.Warningf("%s: skipping message: %v", w.endpoint, err)
				continue
			}
			if ctx.Err() == nil && (waitCtx.Err() != nil || !time.Now().Before(deadline)) {
				return nil, &ct.NotificationTimeoutError{Index: index, Waited: timeout}
			}
			return nil, err
		}
		leaf, err := ct.ParseTreeLeaf(n.Leaf)
		if err != nil {
			klog.Warningf("%s: skipping entry %d: %v", w.endpoint, n.Index, err)
			continue
		}
		if n.Index == index && leaf.ContentHash == contentHash {
			return leaf, nil
		}
		klog.V(1).Infof("%s: received entry %d (%v, %q)", w.endpoint, n.Index, leaf.ContentHash, leaf.Name)
	}
}
