// Package alert implements the side channel agents use to push free-text
// alerts to the controller: one TCP connection per alert, written and
// closed, with no acknowledgment.
package alert

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when an alert is dropped by the client's
// rate limit.
var ErrRateLimited = errors.New("alert rate limit exceeded")

// Client pushes alerts to the controller.
type Client struct {
	addr    string
	limiter *rate.Limiter
	dialer  net.Dialer
	timeout time.Duration
}

// NewClient creates a client allowing perSecond alerts on average with
// bursts of up to burst.
func NewClient(addr string, perSecond float64, burst int) *Client {
	return &Client{
		addr:    addr,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		timeout: 5 * time.Second,
	}
}

// Push sends one alert. Delivery is best effort: callers log the error and
// carry on.
func (c *Client) Push(ctx context.Context, text string) error {
	if !c.limiter.Allow() {
		return ErrRateLimited
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("dial alert channel: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	}
	if _, err := conn.Write([]byte(text)); err != nil {
		return fmt.Errorf("write alert: %w", err)
	}
	return nil
}
