package transfer

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"tgfilestream/internal/upstream"
)

// Connection is one authenticated session to one DC. The mutex serializes
// connect and auth bootstrap; steady-state chunk fetches are issued without
// it because the underlying sender pipelines concurrent requests. users is
// the number of active streams currently multiplexed on the connection.
type Connection struct {
	log    *zap.Logger
	sender upstream.Sender

	mu    sync.Mutex
	users atomic.Int64
}

// Users returns the number of streams currently using the connection.
func (c *Connection) Users() int {
	return int(c.users.Load())
}
