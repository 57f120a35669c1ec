// Package telegram binds the gateway to Telegram through gotd/td. It
// implements the upstream contract: home-DC RPCs, message lookup, the
// inbound event stream, and per-DC senders for chunk fetches.
package telegram

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gotd/contrib/bg"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/styling"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tgfilestream/internal/config"
	"tgfilestream/internal/fileid"
	"tgfilestream/internal/upstream"
)

// Client is the main authenticated session on the home DC.
type Client struct {
	log    *zap.Logger
	cfg    *config.Config
	client *telegram.Client
	api    *tg.Client
	sender *message.Sender
	stop   bg.StopFunc

	onEvent upstream.EventHandler

	homeDC  int
	homeKey upstream.AuthKey
}

// NewClient builds the gotd client. The event handler may be set later
// with OnEvent, but before Start.
func NewClient(cfg *config.Config, log *zap.Logger) *Client {
	c := &Client{log: log, cfg: cfg}

	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		c.dispatch(ctx, e, u.Message)
		return nil
	})
	dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		c.dispatch(ctx, e, u.Message)
		return nil
	})

	c.client = telegram.NewClient(cfg.APIID, cfg.APIHash, telegram.Options{
		Logger:         log.Named("td"),
		SessionStorage: &session.FileStorage{Path: cfg.SessionName + ".session"},
		UpdateHandler:  dispatcher,
		Middlewares: []telegram.Middleware{
			floodwait.NewSimpleWaiter(),
			ratelimit.New(rate.Every(100*time.Millisecond), 5),
		},
	})
	c.api = c.client.API()
	c.sender = message.NewSender(c.api)
	return c
}

// OnEvent registers the handler for inbound chat messages.
func (c *Client) OnEvent(h upstream.EventHandler) {
	c.onEvent = h
}

// Start connects in the background and verifies the session is
// authorized. It also records the session's home DC and auth key, fixing
// the DC id against the server-reported config the way the original
// deployment data sometimes requires.
func (c *Client) Start(ctx context.Context) error {
	stop, err := bg.Connect(c.client, bg.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	c.stop = stop

	status, err := c.client.Auth().Status(ctx)
	if err != nil {
		return fmt.Errorf("auth status: %w", err)
	}
	if !status.Authorized {
		return fmt.Errorf("session %q is not authorized; log it in before starting the gateway", c.cfg.SessionName)
	}

	loader := session.Loader{Storage: &session.FileStorage{Path: c.cfg.SessionName + ".session"}}
	data, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	c.homeDC = data.DC
	c.homeKey = upstream.AuthKey(data.AuthKey)

	if cfg, err := c.api.HelpGetConfig(ctx); err == nil {
		host, _, splitErr := net.SplitHostPort(data.Addr)
		if splitErr != nil {
			host = data.Addr
		}
		for _, opt := range cfg.DCOptions {
			if opt.IPAddress == host && opt.ID != c.homeDC {
				c.log.Warn("fixed DC id in session",
					zap.Int("session_dc", c.homeDC), zap.Int("server_dc", opt.ID))
				c.homeDC = opt.ID
				break
			}
		}
	}

	c.log.Debug("connected", zap.Int("home_dc", c.homeDC))
	return nil
}

// Stop disconnects the background client.
func (c *Client) Stop() error {
	if c.stop == nil {
		return nil
	}
	return c.stop()
}

// Dialer returns a per-DC sender dialer sharing this client's identity.
func (c *Client) Dialer() upstream.Dialer {
	return &dialer{log: c.log, apiID: c.cfg.APIID, apiHash: c.cfg.APIHash}
}

// HomeDC implements upstream.Client.
func (c *Client) HomeDC() int { return c.homeDC }

// HomeAuthKey implements upstream.Client.
func (c *Client) HomeAuthKey() upstream.AuthKey { return c.homeKey }

// DC resolves a datacenter endpoint from the server-reported config,
// preferring plain IPv4 non-CDN options the way file senders dial.
func (c *Client) DC(ctx context.Context, dcID int) (upstream.DCOption, error) {
	cfg, err := c.api.HelpGetConfig(ctx)
	if err != nil {
		return upstream.DCOption{}, fmt.Errorf("get config: %w", err)
	}
	var fallback *tg.DCOption
	for i, opt := range cfg.DCOptions {
		if opt.ID != dcID || opt.CDN || opt.MediaOnly {
			continue
		}
		if !opt.Ipv6 {
			return upstream.DCOption{ID: opt.ID, IP: opt.IPAddress, Port: opt.Port}, nil
		}
		if fallback == nil {
			fallback = &cfg.DCOptions[i]
		}
	}
	if fallback != nil {
		return upstream.DCOption{ID: fallback.ID, IP: fallback.IPAddress, Port: fallback.Port}, nil
	}
	return upstream.DCOption{}, fmt.Errorf("no endpoint for DC %d", dcID)
}

// ExportAuth implements upstream.Client.
func (c *Client) ExportAuth(ctx context.Context, dcID int) (upstream.ExportedAuth, error) {
	auth, err := c.api.AuthExportAuthorization(ctx, dcID)
	if err != nil {
		if tgerr.Is(err, "DC_ID_INVALID") {
			return upstream.ExportedAuth{}, upstream.ErrDCIDInvalid
		}
		return upstream.ExportedAuth{}, fmt.Errorf("export authorization: %w", err)
	}
	return upstream.ExportedAuth{ID: auth.ID, Bytes: auth.Bytes}, nil
}

// Message implements upstream.Client.
func (c *Client) Message(ctx context.Context, peer upstream.Peer, msgID int) (*upstream.Message, error) {
	ids := []tg.InputMessageClass{&tg.InputMessageID{ID: msgID}}

	var res tg.MessagesMessagesClass
	var err error
	if peer.Kind == fileid.PeerChannel {
		res, err = c.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: peer.ChatID},
			ID:      ids,
		})
	} else {
		res, err = c.api.MessagesGetMessages(ctx, ids)
	}
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}

	var list []tg.MessageClass
	switch m := res.(type) {
	case *tg.MessagesMessages:
		list = m.Messages
	case *tg.MessagesMessagesSlice:
		list = m.Messages
	case *tg.MessagesChannelMessages:
		list = m.Messages
	default:
		return nil, fmt.Errorf("unexpected messages response: %T", res)
	}
	if len(list) == 0 {
		return nil, upstream.ErrNotFound
	}
	msg, ok := list[0].(*tg.Message)
	if !ok || msg.ID != msgID {
		return nil, upstream.ErrNotFound
	}
	// Non-channel lookups ignore the peer in the request; reject results
	// from a different chat than the packed id names.
	if got := peerChatID(msg.PeerID); got != peer.ChatID {
		return nil, upstream.ErrNotFound
	}

	return &upstream.Message{
		ID:     msg.ID,
		ChatID: peerChatID(msg.PeerID),
		Date:   time.Unix(int64(msg.Date), 0),
		File:   fileFromMedia(msg.Media),
	}, nil
}

// Reply implements upstream.Replier. linkURL, when set, is appended as a
// styled text link so chat clients render it tappable.
func (c *Client) Reply(ctx context.Context, evt upstream.Event, text, linkURL string) error {
	builder := c.sender.To(inputPeer(evt)).Reply(evt.MessageID)
	var err error
	if linkURL == "" {
		_, err = builder.StyledText(ctx, styling.Plain(text))
	} else {
		_, err = builder.StyledText(ctx, styling.Plain(text), styling.TextURL(linkURL, linkURL))
	}
	if err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// dispatch converts one raw update into an upstream.Event.
func (c *Client) dispatch(ctx context.Context, e tg.Entities, raw tg.MessageClass) {
	if c.onEvent == nil {
		return
	}
	msg, ok := raw.(*tg.Message)
	if !ok || msg.Out {
		return
	}

	evt := upstream.Event{
		MessageID: msg.ID,
		ChatID:    peerChatID(msg.PeerID),
		Date:      time.Unix(int64(msg.Date), 0),
		File:      fileFromMedia(msg.Media),
	}
	switch peer := msg.PeerID.(type) {
	case *tg.PeerUser:
		evt.IsPrivate = true
		evt.FromID = peer.UserID
	case *tg.PeerChat:
		evt.IsGroup = true
	case *tg.PeerChannel:
		evt.IsChannel = true
		if ch, ok := e.Channels[peer.ChannelID]; ok && ch.Megagroup {
			evt.IsGroup = true
		}
	}
	if from, ok := msg.FromID.(*tg.PeerUser); ok {
		evt.FromID = from.UserID
	}

	c.onEvent(ctx, evt)
}

func inputPeer(evt upstream.Event) tg.InputPeerClass {
	switch {
	case evt.IsChannel:
		return &tg.InputPeerChannel{ChannelID: evt.ChatID}
	case evt.IsGroup:
		return &tg.InputPeerChat{ChatID: evt.ChatID}
	default:
		return &tg.InputPeerUser{UserID: evt.ChatID}
	}
}

func peerChatID(peer tg.PeerClass) int64 {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return p.UserID
	case *tg.PeerChat:
		return p.ChatID
	case *tg.PeerChannel:
		return p.ChannelID
	default:
		return 0
	}
}

// fileLocation is the upstream.FileLocation produced by this adapter.
type fileLocation struct {
	dc    int
	input tg.InputFileLocationClass
}

func (l *fileLocation) DC() int { return l.dc }

// fileFromMedia extracts servable attachment metadata, or nil when the
// message carries none.
func fileFromMedia(media tg.MessageMediaClass) *upstream.File {
	switch m := media.(type) {
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return nil
		}
		file := &upstream.File{
			Size:     doc.Size,
			MimeType: doc.MimeType,
			Location: &fileLocation{
				dc: doc.DCID,
				input: &tg.InputDocumentFileLocation{
					ID:            doc.ID,
					AccessHash:    doc.AccessHash,
					FileReference: doc.FileReference,
				},
			},
		}
		for _, attr := range doc.Attributes {
			if name, ok := attr.(*tg.DocumentAttributeFilename); ok {
				file.Name = name.FileName
				break
			}
		}
		return file
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return nil
		}
		thumb, size := largestPhotoSize(photo.Sizes)
		if thumb == "" {
			return nil
		}
		return &upstream.File{
			Ext:      ".jpg",
			Size:     size,
			MimeType: "image/jpeg",
			Location: &fileLocation{
				dc: photo.DCID,
				input: &tg.InputPhotoFileLocation{
					ID:            photo.ID,
					AccessHash:    photo.AccessHash,
					FileReference: photo.FileReference,
					ThumbSize:     thumb,
				},
			},
		}
	default:
		return nil
	}
}

func largestPhotoSize(sizes []tg.PhotoSizeClass) (string, int64) {
	var (
		thumb string
		best  int64
	)
	for _, s := range sizes {
		switch v := s.(type) {
		case *tg.PhotoSize:
			if int64(v.Size) > best {
				best = int64(v.Size)
				thumb = v.Type
			}
		case *tg.PhotoSizeProgressive:
			var max int
			for _, n := range v.Sizes {
				if n > max {
					max = n
				}
			}
			if int64(max) > best {
				best = int64(max)
				thumb = v.Type
			}
		}
	}
	return thumb, best
}

// addr formats a DC endpoint for session seeding.
func addr(dc upstream.DCOption) string {
	return net.JoinHostPort(dc.IP, strconv.Itoa(dc.Port))
}
