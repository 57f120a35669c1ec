package telegram

import (
	"context"
	"crypto/sha1"
	"fmt"
	"sync"

	"github.com/gotd/contrib/bg"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"tgfilestream/internal/upstream"
)

// dialer opens additional gotd clients pinned to a specific DC. Auth key
// reuse works by seeding each client's session storage with the DC's key
// before connecting.
type dialer struct {
	log     *zap.Logger
	apiID   int
	apiHash string
}

func (d *dialer) Dial(ctx context.Context, dc upstream.DCOption, key upstream.AuthKey) (upstream.Sender, error) {
	s := &sender{
		log:     d.log.Named(fmt.Sprintf("sender-dc%d", dc.ID)),
		apiID:   d.apiID,
		apiHash: d.apiHash,
		dc:      dc,
	}
	if err := s.connect(ctx, key); err != nil {
		return nil, err
	}
	return s, nil
}

// sender is one bound session on a file DC. gotd pipelines concurrent
// requests on the session, so FetchChunk needs no locking; the mutex only
// serializes reconnects.
type sender struct {
	log     *zap.Logger
	apiID   int
	apiHash string
	dc      upstream.DCOption

	mu      sync.Mutex
	storage *session.StorageMemory
	client  *telegram.Client
	api     *tg.Client
	stop    bg.StopFunc
}

// connect builds and starts a client on the sender's DC, seeding the
// session with key when one is available.
func (s *sender) connect(ctx context.Context, key upstream.AuthKey) error {
	storage := &session.StorageMemory{}
	if key != nil {
		loader := session.Loader{Storage: storage}
		if err := loader.Save(ctx, &session.Data{
			DC:        s.dc.ID,
			Addr:      addr(s.dc),
			AuthKey:   key,
			AuthKeyID: authKeyID(key),
		}); err != nil {
			return fmt.Errorf("seed session for DC %d: %w", s.dc.ID, err)
		}
	}

	client := telegram.NewClient(s.apiID, s.apiHash, telegram.Options{
		DC:             s.dc.ID,
		DCList:         dcs.Prod(),
		SessionStorage: storage,
		Logger:         s.log,
	})
	stop, err := bg.Connect(client, bg.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("connect to DC %d: %w", s.dc.ID, err)
	}

	s.storage = storage
	s.client = client
	s.api = client.API()
	s.stop = stop
	return nil
}

// ImportAuth consumes an exported authorization on this sender and
// returns the session's resulting auth key.
func (s *sender) ImportAuth(ctx context.Context, auth upstream.ExportedAuth) (upstream.AuthKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.api.AuthImportAuthorization(ctx, &tg.AuthImportAuthorizationRequest{
		ID:    auth.ID,
		Bytes: auth.Bytes,
	}); err != nil {
		return nil, fmt.Errorf("import authorization on DC %d: %w", s.dc.ID, err)
	}

	loader := session.Loader{Storage: s.storage}
	data, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("read back session for DC %d: %w", s.dc.ID, err)
	}
	return upstream.AuthKey(data.AuthKey), nil
}

// SetAuthKey rebinds the sender to an existing key by reconnecting with
// a seeded session.
func (s *sender) SetAuthKey(ctx context.Context, key upstream.AuthKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		if err := s.stop(); err != nil {
			s.log.Debug("stopping sender for rebind", zap.Error(err))
		}
	}
	return s.connect(ctx, key)
}

// FetchChunk implements upstream.Sender.
func (s *sender) FetchChunk(ctx context.Context, loc upstream.FileLocation, offset int64, limit int) ([]byte, error) {
	l, ok := loc.(*fileLocation)
	if !ok {
		return nil, fmt.Errorf("unexpected file location %T", loc)
	}

	res, err := s.api.UploadGetFile(ctx, &tg.UploadGetFileRequest{
		Location: l.input,
		Offset:   offset,
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("get file chunk at %d: %w", offset, err)
	}
	file, ok := res.(*tg.UploadFile)
	if !ok {
		// CDN redirects would need their own key dance; the gateway does
		// not serve CDN-backed files.
		return nil, fmt.Errorf("unexpected upload response %T", res)
	}
	return file.Bytes, nil
}

func (s *sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return nil
	}
	return s.stop()
}

// authKeyID is the low 8 bytes of the key's SHA1, as the session format
// expects.
func authKeyID(key upstream.AuthKey) []byte {
	sum := sha1.Sum(key)
	return sum[12:20]
}
