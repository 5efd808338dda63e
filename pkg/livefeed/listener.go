package livefeed

import (
	"context"
	"net/url"
	"time"

	"github.com/NotCoffee418/ekm_meter_reader/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	maxRetries     = 10
	baseRetryDelay = 2 * time.Second
	maxRetryDelay  = 60 * time.Second
	pingInterval   = 30 * time.Second
)

// Records arrive once per poll interval, which may be many minutes.
// Pings keep the connection alive in between.
var readTimeout = 2 * pingInterval

// StartListener follows the /ws feed at host and calls funcToCall for each
// record summary, reconnecting with exponential backoff until ctx is done
// or maxRetries consecutive connection attempts fail.
func StartListener(ctx context.Context, host string, log logrus.FieldLogger, funcToCall func(summary *types.RecordSummary)) {
	u := url.URL{Scheme: "ws", Host: host, Path: "/ws"}
	retryCount := 0

	for {
		if ctx.Err() != nil {
			log.Info("Shutting down listener")
			return
		}

		if retryCount > 0 {
			// Calculate retry delay with exponential backoff
			retryDelay := time.Duration(1<<retryCount) * baseRetryDelay
			if retryDelay > maxRetryDelay {
				retryDelay = maxRetryDelay
			}
			log.Infof("Retrying connection in %v... (attempt %d/%d)", retryDelay, retryCount+1, maxRetries)
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				log.Info("Shutting down during retry wait")
				return
			}
		}

		log.Infof("Connecting to %s", u.String())

		dialer := *websocket.DefaultDialer
		dialer.HandshakeTimeout = 10 * time.Second
		c, _, err := dialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			log.Warnf("Connection failed: %v", err)
			retryCount++
			if retryCount >= maxRetries {
				log.Errorf("Max retries (%d) reached. Giving up.", maxRetries)
				return
			}
			continue
		}

		log.Info("Connected! Accepting meter records.")
		retryCount = 0

		connectionBroken := handleConnection(ctx, c, log, funcToCall)
		c.Close()

		if !connectionBroken {
			// Clean shutdown requested
			return
		}
		log.Warn("Connection lost, will retry...")
	}
}

func handleConnection(
	ctx context.Context,
	c *websocket.Conn,
	log logrus.FieldLogger,
	funcToCall func(summary *types.RecordSummary),
) bool {
	done := make(chan struct{})

	c.SetReadDeadline(time.Now().Add(readTimeout))
	c.SetPongHandler(func(string) error {
		c.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go func() {
		defer close(done)
		for {
			messageType, message, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warnf("WebSocket error: %v", err)
				} else {
					log.Infof("Connection closed: %v", err)
				}
				return
			}

			c.SetReadDeadline(time.Now().Add(readTimeout))

			if messageType != websocket.TextMessage {
				log.Debugf("Received unexpected message type: %d", messageType)
				continue
			}
			if summary := types.RecordSummaryFromJsonBytes(message); summary != nil {
				funcToCall(summary)
			} else {
				log.Warnf("Failed to parse record summary: %s", string(message))
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warnf("Failed to send ping: %v", err)
				return true
			}
		case <-done:
			// Connection broke
			return true
		case <-ctx.Done():
			log.Info("Closing connection...")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Warnf("Error sending close message: %v", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return false
		}
	}
}
