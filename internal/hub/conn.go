package hub

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/oremus-labs/ol-chat-relay/internal/events"
	"github.com/oremus-labs/ol-chat-relay/internal/logutil"
	"github.com/oremus-labs/ol-chat-relay/internal/metrics"
)

const writeTimeout = 10 * time.Second

// errDropped ends a connection whose subscriber was removed by the hub.
var errDropped = errors.New("subscriber dropped")

// ServeConn relays broadcast events to conn and queues the messages it sends.
// The connection is closed when either direction fails or ctx is done.
func (h *Hub) ServeConn(ctx context.Context, conn *websocket.Conn) error {
	sub := h.Connect()
	defer h.Disconnect(sub)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case evt, ok := <-sub.Events():
				if !ok {
					return errDropped
				}
				data, err := json.Marshal(evt)
				if err != nil {
					logutil.Error("encode event failed", err, map[string]interface{}{"viewer": sub.ID})
					continue
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return err
				}
			}
		}
	})

	g.Go(func() error {
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return err
			}
			if msgType != websocket.TextMessage {
				metrics.InboundDropped()
				continue
			}
			msg, err := events.ParseInbound(data)
			if err != nil {
				metrics.InboundDropped()
				logutil.Debug("discarding inbound payload", map[string]interface{}{"viewer": sub.ID, "error": err.Error()})
				continue
			}
			h.Enqueue(msg)
		}
	})

	// ReadMessage ignores ctx; closing the socket unblocks it.
	go func() {
		<-gctx.Done()
		_ = conn.Close()
	}()

	err := g.Wait()
	if err == nil || errors.Is(err, context.Canceled) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return nil
	}
	return err
}
