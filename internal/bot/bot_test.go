package bot

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"tgfilestream/internal/fileid"
	"tgfilestream/internal/upstream"
)

type recordedReply struct {
	evt  upstream.Event
	text string
	link string
}

type fakeReplier struct {
	replies []recordedReply
}

func (r *fakeReplier) Reply(_ context.Context, evt upstream.Event, text, linkURL string) error {
	r.replies = append(r.replies, recordedReply{evt: evt, text: text, link: linkURL})
	return nil
}

func newTestBot(t *testing.T) (*Bot, *fakeReplier) {
	t.Helper()
	publicURL, err := url.Parse("https://files.example.com")
	if err != nil {
		t.Fatal(err)
	}
	replier := &fakeReplier{}
	return New(replier, publicURL, "send me a file", "private only", zap.NewNop()), replier
}

func TestGroupChatGetsGroupMessage(t *testing.T) {
	t.Parallel()

	b, r := newTestBot(t)
	b.HandleEvent(context.Background(), upstream.Event{
		MessageID: 1, ChatID: 10, IsGroup: true,
		File: &upstream.File{Name: "x.bin"},
	})
	if len(r.replies) != 1 || r.replies[0].text != "private only" || r.replies[0].link != "" {
		t.Fatalf("unexpected replies: %+v", r.replies)
	}
}

func TestPrivateWithoutFileGetsStartMessage(t *testing.T) {
	t.Parallel()

	b, r := newTestBot(t)
	b.HandleEvent(context.Background(), upstream.Event{MessageID: 2, ChatID: 20, IsPrivate: true})
	if len(r.replies) != 1 || r.replies[0].text != "send me a file" {
		t.Fatalf("unexpected replies: %+v", r.replies)
	}
}

func TestPrivateFileGetsLink(t *testing.T) {
	t.Parallel()

	b, r := newTestBot(t)
	evt := upstream.Event{
		MessageID: 7, ChatID: 42, IsPrivate: true,
		Date: time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC),
		File: &upstream.File{Name: "report.pdf"},
	}
	b.HandleEvent(context.Background(), evt)

	if len(r.replies) != 1 {
		t.Fatalf("replies = %d, want 1", len(r.replies))
	}
	wantID := fileid.Pack(false, false, 42, 7)
	wantLink := "https://files.example.com/" + strconv.FormatUint(wantID, 10) + "/report.pdf"
	if r.replies[0].link != wantLink {
		t.Fatalf("link = %q, want %q", r.replies[0].link, wantLink)
	}
	if !strings.HasPrefix(r.replies[0].text, "Link to download file") {
		t.Fatalf("text = %q", r.replies[0].text)
	}
}

func TestLinkUsesChatKindBits(t *testing.T) {
	t.Parallel()

	b, _ := newTestBot(t)
	evt := upstream.Event{
		MessageID: 3, ChatID: 5, IsPrivate: true, IsChannel: true,
		File: &upstream.File{Name: "a.txt"},
	}
	link := b.Link(evt)
	var id uint64
	parts := strings.Split(link, "/")
	id, err := strconv.ParseUint(parts[len(parts)-2], 10, 64)
	if err != nil {
		t.Fatalf("parse id from %q: %v", link, err)
	}
	kind, chatID, msgID, ok := fileid.Unpack(id)
	if !ok || kind != fileid.PeerChannel || chatID != 5 || msgID != 3 {
		t.Fatalf("unpacked (%v, %d, %d, %v) from %q", kind, chatID, msgID, ok, link)
	}
}

func TestUnnamedFileGetsTimestampName(t *testing.T) {
	t.Parallel()

	evt := upstream.Event{
		Date: time.Date(2019, 8, 24, 16, 5, 7, 0, time.UTC),
		File: &upstream.File{Ext: ".jpg"},
	}
	if got := evt.FileName(); got != "2019-08-24_16:05:07.jpg" {
		t.Fatalf("file name = %q", got)
	}
}

func TestUnnamedFileExtensionFromMimeType(t *testing.T) {
	t.Parallel()

	evt := upstream.Event{
		Date: time.Date(2019, 8, 24, 16, 5, 7, 0, time.UTC),
		File: &upstream.File{MimeType: "application/pdf"},
	}
	if got := evt.FileName(); got != "2019-08-24_16:05:07.pdf" {
		t.Fatalf("file name = %q", got)
	}
}
