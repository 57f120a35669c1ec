package upstream

import (
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// FileName derives the name a file is served under. Files the sender
// named keep that name; unnamed files (photos, voice notes) get a
// timestamp name with the best extension available.
func FileName(f *File, date time.Time) string {
	if f == nil {
		return ""
	}
	if f.Name != "" {
		return f.Name
	}
	ext := f.Ext
	if ext == "" && f.MimeType != "" {
		if mt := mimetype.Lookup(f.MimeType); mt != nil {
			ext = mt.Extension()
		}
	}
	return date.Format("2006-01-02_15:04:05") + ext
}

// FileName returns the name the message's attachment is served under,
// or "" when the message has no attachment.
func (m *Message) FileName() string {
	if m == nil || m.File == nil {
		return ""
	}
	return FileName(m.File, m.Date)
}

// FileName returns the name the event's attachment will be served under,
// or "" when the event carries no attachment.
func (e Event) FileName() string {
	return FileName(e.File, e.Date)
}
