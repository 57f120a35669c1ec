// Package transfer streams file bytes out of Telegram datacenters. It
// pools authenticated sessions per DC, translates HTTP byte ranges into
// aligned chunk fetches, and hands the result to the HTTP layer as a
// lazy io.ReadCloser that releases its connection on every exit path.
package transfer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tgfilestream/internal/upstream"
)

// ChunkSize mirrors the upstream fetch granularity.
const ChunkSize = upstream.ChunkSize

// maxSafeConnections is the pool size beyond which the upstream starts
// disconnect/reconnect loops.
const maxSafeConnections = 25

// Transferrer owns one DCManager per datacenter and turns a (location,
// offset, limit) triple into a byte stream.
type Transferrer struct {
	log      *zap.Logger
	client   upstream.Client
	managers map[int]*DCManager
	streams  atomic.Int64
}

// New builds a transferrer with managers for DCs 1 through 5.
func New(client upstream.Client, dialer upstream.Dialer, connectionLimit int, log *zap.Logger) *Transferrer {
	if connectionLimit > maxSafeConnections {
		log.Warn("the connection limit should not be set above 25 to avoid infinite disconnect/reconnect loops",
			zap.Int("connection_limit", connectionLimit))
	}
	t := &Transferrer{
		log:      log,
		client:   client,
		managers: make(map[int]*DCManager, 5),
	}
	for dc := 1; dc <= 5; dc++ {
		t.managers[dc] = newDCManager(client, dialer, dc, connectionLimit, log)
	}
	return t
}

// PostInit seeds the home DC's manager with the main session's auth key.
// Called once the client is connected, which may be after construction.
func (t *Transferrer) PostInit() {
	if m, ok := t.managers[t.client.HomeDC()]; ok {
		m.seedAuthKey(t.client.HomeAuthKey())
	}
}

// CanDownload answers whether a download from the given DC would find
// capacity right now. Deliberately permissive: CONNECTION_LIMIT plus
// sender pipelining is the real control.
func (t *Transferrer) CanDownload(loc upstream.FileLocation) bool {
	m, ok := t.managers[loc.DC()]
	if !ok {
		return false
	}
	return m.canDownload()
}

// ActiveStreams reports the number of in-flight download streams.
func (t *Transferrer) ActiveStreams() int {
	return int(t.streams.Load())
}

// PoolSizes reports the connection count per DC.
func (t *Transferrer) PoolSizes() map[int]int {
	sizes := make(map[int]int, len(t.managers))
	for dc, m := range t.managers {
		if n := m.size(); n > 0 {
			sizes[dc] = n
		}
	}
	return sizes
}

// Download acquires a connection to the file's DC and returns a stream
// delivering bytes [offset, limit) of the file. The caller must Close the
// stream; Close is also safe after the stream has ended on its own.
func (t *Transferrer) Download(ctx context.Context, loc upstream.FileLocation, size, offset, limit int64) (*Stream, error) {
	if offset < 0 || limit <= offset || limit > size {
		return nil, fmt.Errorf("invalid range [%d, %d) for size %d", offset, limit, size)
	}
	m, ok := t.managers[loc.DC()]
	if !ok {
		return nil, fmt.Errorf("no manager for DC %d", loc.DC())
	}

	firstPart := offset / ChunkSize
	lastPart := (limit - 1) / ChunkSize
	partCount := (size + ChunkSize - 1) / ChunkSize

	conn, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	t.streams.Add(1)

	log := conn.log.With(zap.String("stream", uuid.NewString()))
	log.Debug("starting parallel download",
		zap.Int64("first_part", firstPart),
		zap.Int64("last_part", lastPart),
		zap.Int64("part_count", partCount))

	return &Stream{
		ctx:       ctx,
		log:       log,
		release:   func() { m.release(conn); t.streams.Add(-1) },
		conn:      conn,
		loc:       loc,
		part:      firstPart,
		firstPart: firstPart,
		lastPart:  lastPart,
		rpcOffset: firstPart * ChunkSize,
		firstCut:  int(offset % ChunkSize),
		lastKeep:  int(limit - lastPart*ChunkSize),
	}, nil
}

// Stream is a lazy, pull-based chunk reader over one connection. Reads
// deliver bytes in file order; the connection is released exactly once,
// on completion, error, cancellation or Close, whichever comes first.
type Stream struct {
	ctx context.Context
	log *zap.Logger

	release func()
	conn    *Connection
	loc     upstream.FileLocation

	part      int64
	firstPart int64
	lastPart  int64
	rpcOffset int64
	firstCut  int
	lastKeep  int

	buf         []byte
	done        bool
	err         error
	releaseOnce sync.Once
}

func (s *Stream) Read(p []byte) (int, error) {
	for len(s.buf) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		if s.done {
			return 0, io.EOF
		}
		s.fetch()
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// fetch pulls and trims the next chunk, or moves the stream into a
// terminal state. Cancellation surfaces as the context error so the HTTP
// copy stops immediately; transport errors end the stream silently after
// a debug log, letting the partial response terminate naturally.
func (s *Stream) fetch() {
	if s.part > s.lastPart {
		s.finish(nil)
		return
	}
	if err := s.ctx.Err(); err != nil {
		s.log.Debug("parallel download interrupted")
		s.finish(err)
		return
	}

	b, err := s.conn.sender.FetchChunk(s.ctx, s.loc, s.rpcOffset, ChunkSize)
	if err != nil {
		if s.ctx.Err() != nil {
			s.log.Debug("parallel download interrupted")
			s.finish(s.ctx.Err())
			return
		}
		s.log.Debug("parallel download errored", zap.Error(err))
		s.finish(nil)
		return
	}
	if len(b) == 0 {
		s.log.Debug("empty chunk, ending download", zap.Int64("part", s.part))
		s.finish(nil)
		return
	}

	switch {
	case s.part == s.firstPart && s.part == s.lastPart:
		b = b[min(s.firstCut, len(b)):min(s.lastKeep, len(b))]
	case s.part == s.firstPart:
		b = b[min(s.firstCut, len(b)):]
	case s.part == s.lastPart:
		b = b[:min(s.lastKeep, len(b))]
	}

	s.log.Debug("part downloaded", zap.Int64("part", s.part), zap.Int64("last_part", s.lastPart))
	s.rpcOffset += ChunkSize
	s.part++
	s.buf = b

	if s.part > s.lastPart {
		s.done = true
		s.releaseConn()
		s.log.Debug("parallel download finished")
	}
}

func (s *Stream) finish(err error) {
	s.done = true
	s.err = err
	s.releaseConn()
}

func (s *Stream) releaseConn() {
	s.releaseOnce.Do(s.release)
}

// Close releases the stream's connection. Safe to call more than once
// and after the stream has already ended.
func (s *Stream) Close() error {
	s.done = true
	s.releaseConn()
	return nil
}
