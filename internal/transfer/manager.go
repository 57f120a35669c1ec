package transfer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"tgfilestream/internal/upstream"
)

// DCManager owns the pool of connections to one datacenter. The list
// mutex guards the pool, the cached endpoint and the shared auth key, and
// is held across connection bootstrap so a half-opened session can never
// race a second bootstrap or be torn down by a cancelled request.
type DCManager struct {
	log    *zap.Logger
	client upstream.Client
	dialer upstream.Dialer
	dcID   int
	limit  int

	listMu  chan struct{} // acquired with ctx, see lock/unlock
	dc      *upstream.DCOption
	authKey upstream.AuthKey
	conns   []*Connection
}

func newDCManager(client upstream.Client, dialer upstream.Dialer, dcID, limit int, log *zap.Logger) *DCManager {
	m := &DCManager{
		log:    log.Named(fmt.Sprintf("dc%d", dcID)),
		client: client,
		dialer: dialer,
		dcID:   dcID,
		limit:  limit,
		listMu: make(chan struct{}, 1),
	}
	m.listMu <- struct{}{}
	return m
}

// lock takes the list mutex, giving up if ctx ends first.
func (m *DCManager) lock(ctx context.Context) error {
	select {
	case <-m.listMu:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *DCManager) unlock() {
	m.listMu <- struct{}{}
}

// seedAuthKey records a pre-existing auth key for this DC. The key is
// single-initialization: once set it is never overwritten, and all
// subsequent connections reuse it.
func (m *DCManager) seedAuthKey(key upstream.AuthKey) {
	<-m.listMu
	defer m.unlock()
	if m.authKey == nil {
		m.authKey = key
	}
}

// acquire hands out the least-loaded connection, growing the pool when
// every existing connection already carries load and the cap allows it.
// Callers must pair every acquire with a release.
func (m *DCManager) acquire(ctx context.Context) (*Connection, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()

	var best *Connection
	for _, conn := range m.conns {
		if best == nil || conn.users.Load() < best.users.Load() {
			best = conn
		}
	}
	if (best == nil || best.users.Load() > 0) && len(m.conns) < m.limit {
		// Bootstrap is shielded: an HTTP client going away mid-handshake
		// must not leave a half-opened session behind.
		conn, err := m.newConnection(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		best = conn
	}

	// The connection lock keeps the increment from racing an ongoing
	// reconnect on this connection.
	best.mu.Lock()
	best.users.Add(1)
	best.mu.Unlock()
	return best, nil
}

func (m *DCManager) release(conn *Connection) {
	conn.users.Add(-1)
}

// newConnection dials and bootstraps one session. Called with the list
// mutex held.
func (m *DCManager) newConnection(ctx context.Context) (*Connection, error) {
	if m.dc == nil {
		dc, err := m.client.DC(ctx, m.dcID)
		if err != nil {
			return nil, fmt.Errorf("resolve DC %d: %w", m.dcID, err)
		}
		m.dc = &dc
	}

	sender, err := m.dialer.Dial(ctx, *m.dc, m.authKey)
	if err != nil {
		return nil, fmt.Errorf("dial DC %d: %w", m.dcID, err)
	}

	conn := &Connection{
		log:    m.log.Named(fmt.Sprintf("conn%d", len(m.conns)+1)),
		sender: sender,
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()

	conn.log.Info("connected", zap.String("addr", fmt.Sprintf("%s:%d", m.dc.IP, m.dc.Port)))
	if m.authKey == nil {
		if err := m.exportAuth(ctx, conn); err != nil {
			_ = sender.Close()
			return nil, err
		}
	}
	m.conns = append(m.conns, conn)
	return conn, nil
}

// exportAuth obtains this DC's auth key by exporting an authorization
// from the home DC and importing it on the new sender. Runs at most once
// per DC per process. Called with the list mutex and conn.mu held.
func (m *DCManager) exportAuth(ctx context.Context, conn *Connection) error {
	m.log.Info("exporting auth", zap.Int("dc", m.dcID), zap.Int("home_dc", m.client.HomeDC()))
	auth, err := m.client.ExportAuth(ctx, m.dcID)
	if errors.Is(err, upstream.ErrDCIDInvalid) {
		// The home DC already is this DC; reuse the main session's key.
		m.log.Debug("got DC_ID_INVALID, copying home auth key")
		m.authKey = m.client.HomeAuthKey()
		return conn.sender.SetAuthKey(ctx, m.authKey)
	}
	if err != nil {
		return fmt.Errorf("export auth for DC %d: %w", m.dcID, err)
	}
	key, err := conn.sender.ImportAuth(ctx, auth)
	if err != nil {
		return fmt.Errorf("import auth on DC %d: %w", m.dcID, err)
	}
	m.authKey = key
	return nil
}

// canDownload answers whether a new stream would find capacity: an idle
// connection, or room to grow the pool.
func (m *DCManager) canDownload() bool {
	select {
	case <-m.listMu:
	default:
		// Pool is mid-bootstrap; a new stream will simply queue on it.
		return true
	}
	defer m.unlock()
	if len(m.conns) < m.limit {
		return true
	}
	for _, conn := range m.conns {
		if conn.users.Load() == 0 {
			return true
		}
	}
	return false
}

// size reports the current pool size, for the metrics ticker.
func (m *DCManager) size() int {
	<-m.listMu
	defer m.unlock()
	return len(m.conns)
}
