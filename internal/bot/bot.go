// Package bot reacts to inbound chat messages: files sent in private
// chats are answered with a public download link.
package bot

import (
	"context"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"tgfilestream/internal/fileid"
	"tgfilestream/internal/upstream"
)

// Bot handles the upstream event stream.
type Bot struct {
	log       *zap.Logger
	replier   upstream.Replier
	publicURL *url.URL

	startMessage     string
	groupChatMessage string
}

// New builds a bot that mints links under publicURL.
func New(replier upstream.Replier, publicURL *url.URL, startMessage, groupChatMessage string, log *zap.Logger) *Bot {
	return &Bot{
		log:              log,
		replier:          replier,
		publicURL:        publicURL,
		startMessage:     startMessage,
		groupChatMessage: groupChatMessage,
	}
}

// HandleEvent is the upstream.EventHandler. Reply failures are logged,
// not propagated; a missed reply must not affect the update stream.
func (b *Bot) HandleEvent(ctx context.Context, evt upstream.Event) {
	if !evt.IsPrivate {
		b.reply(ctx, evt, b.groupChatMessage, "")
		return
	}
	if evt.File == nil {
		b.reply(ctx, evt, b.startMessage, "")
		return
	}

	link := b.Link(evt)
	b.reply(ctx, evt, "Link to download file: ", link)
	b.log.Info("replied with link",
		zap.Int("message_id", evt.MessageID),
		zap.Int64("from_id", evt.FromID),
		zap.Int64("chat_id", evt.ChatID))
	b.log.Debug("minted link", zap.Int("message_id", evt.MessageID), zap.String("url", link))
}

// Link is the public download URL for the event's attachment.
func (b *Bot) Link(evt upstream.Event) string {
	id := fileid.Pack(evt.IsGroup, evt.IsChannel, evt.ChatID, int64(evt.MessageID))
	return b.publicURL.JoinPath(strconv.FormatUint(id, 10), evt.FileName()).String()
}

func (b *Bot) reply(ctx context.Context, evt upstream.Event, text, linkURL string) {
	if err := b.replier.Reply(ctx, evt, text, linkURL); err != nil {
		b.log.Warn("reply failed", zap.Int("message_id", evt.MessageID), zap.Error(err))
	}
}
