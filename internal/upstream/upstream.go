// Package upstream defines the contract between the gateway and the
// Telegram client that backs it. The transfer engine, HTTP handlers and
// bot all program against these interfaces; the real MTProto stack lives
// behind them in internal/telegram, and tests substitute fakes.
package upstream

import (
	"context"
	"errors"
	"time"

	"tgfilestream/internal/fileid"
)

// ChunkSize is the fixed granularity of the upstream file-fetch RPC.
// Fetch offsets must be multiples of it and limits must not exceed it.
const ChunkSize = 512 * 1024

var (
	// ErrNotFound reports that a message lookup matched nothing.
	ErrNotFound = errors.New("upstream: message not found")
	// ErrDCIDInvalid reports an auth export aimed at the home DC.
	ErrDCIDInvalid = errors.New("upstream: DC id invalid")
)

// AuthKey is an opaque per-DC credential. The gateway never inspects it,
// only hands it back to the dialer so new senders can reuse it.
type AuthKey []byte

// DCOption describes one datacenter endpoint.
type DCOption struct {
	ID   int
	IP   string
	Port int
}

// ExportedAuth is a transferable authorization minted on the home DC and
// imported on the target DC's sender.
type ExportedAuth struct {
	ID    int64
	Bytes []byte
}

// Peer names one chat of a given kind. Access hashes are zero; the
// upstream treats them as optional for these peer kinds.
type Peer struct {
	Kind   fileid.PeerKind
	ChatID int64
}

// FileLocation is an opaque handle for fetching a file's bytes. The only
// property the gateway reads is the DC that hosts the file.
type FileLocation interface {
	DC() int
}

// File is the attachment metadata the gateway needs to serve a download.
type File struct {
	Name     string
	Ext      string
	Size     int64
	MimeType string
	Location FileLocation
}

// Message is a looked-up chat message. File is nil when the message
// carries no attachment.
type Message struct {
	ID     int
	ChatID int64
	Date   time.Time
	File   *File
}

// Event is one inbound chat message as delivered by the update stream.
type Event struct {
	MessageID int
	ChatID    int64
	FromID    int64
	IsPrivate bool
	IsGroup   bool
	IsChannel bool
	Date      time.Time
	File      *File
}

// EventHandler consumes inbound chat events.
type EventHandler func(ctx context.Context, evt Event)

// Client is the authenticated RPC channel to the home DC.
type Client interface {
	// DC resolves a datacenter endpoint.
	DC(ctx context.Context, dcID int) (DCOption, error)
	// ExportAuth mints a transferable authorization for dcID. Returns
	// ErrDCIDInvalid when dcID is the home DC.
	ExportAuth(ctx context.Context, dcID int) (ExportedAuth, error)
	// HomeDC is the DC of the main session.
	HomeDC() int
	// HomeAuthKey is the main session's auth key, used to seed the home
	// DC's pool and as the ErrDCIDInvalid fallback.
	HomeAuthKey() AuthKey
	// Message looks up one message. Returns ErrNotFound when there is no
	// such message.
	Message(ctx context.Context, peer Peer, msgID int) (*Message, error)
}

// Sender is one bound MTProto session on a specific DC. Implementations
// are expected to pipeline concurrent FetchChunk calls and dispatch
// replies by request id.
type Sender interface {
	// ImportAuth consumes an exported authorization and returns the
	// resulting auth key for this DC.
	ImportAuth(ctx context.Context, auth ExportedAuth) (AuthKey, error)
	// SetAuthKey rebinds the sender to an existing key. Used when the
	// target DC turns out to be the home DC.
	SetAuthKey(ctx context.Context, key AuthKey) error
	// FetchChunk reads up to limit bytes at offset. offset must be a
	// multiple of ChunkSize and limit must not exceed it.
	FetchChunk(ctx context.Context, loc FileLocation, offset int64, limit int) ([]byte, error)
	Close() error
}

// Dialer opens senders. key may be nil, in which case the caller must
// either import an authorization or set a key before fetching.
type Dialer interface {
	Dial(ctx context.Context, dc DCOption, key AuthKey) (Sender, error)
}

// Replier sends a reply to the chat an event came from.
type Replier interface {
	Reply(ctx context.Context, evt Event, text string, linkURL string) error
}
