package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"tgfilestream/internal/fileid"
	"tgfilestream/internal/upstream"
)

// retryAfter is how long a refused client is told to wait before trying
// the download again.
const retryAfter = "120"

func (s *Server) handleGet(c echo.Context) error {
	return s.serveFile(c, false)
}

func (s *Server) handleHead(c echo.Context) error {
	return s.serveFile(c, true)
}

// serveFile resolves the packed id to a message, checks the requested
// name against the file's real name, and streams the requested byte
// range. The name check prevents id-guessing from revealing unrelated
// content under a chosen filename.
func (s *Server) serveFile(c echo.Context, head bool) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}
	kind, chatID, msgID, ok := fileid.Unpack(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound)
	}
	fileName := c.Param("name")

	req := c.Request()
	msg, err := s.client.Message(req.Context(), upstream.Peer{Kind: kind, ChatID: chatID}, int(msgID))
	if err != nil {
		if !errors.Is(err, upstream.ErrNotFound) {
			s.log.Debug("message lookup failed", zap.Uint64("id", id), zap.Error(err))
		}
		return echo.NewHTTPError(http.StatusNotFound)
	}
	if msg.File == nil || msg.FileName() != fileName {
		return echo.NewHTTPError(http.StatusNotFound)
	}
	file := msg.File

	offset, limit := parseRange(req.Header.Get("Range"), file.Size)

	var stream io.ReadCloser
	if !head {
		if !s.transfer.CanDownload(file.Location) {
			c.Response().Header().Set("Retry-After", retryAfter)
			return echo.NewHTTPError(http.StatusServiceUnavailable)
		}
		s.log.Info("serving file",
			zap.Int("message_id", msg.ID),
			zap.Int64("chat_id", msg.ChatID),
			zap.String("to", s.requesterIP(c)))
		stream, err = s.transfer.Download(req.Context(), file.Location, file.Size, offset, limit)
		if err != nil {
			s.log.Debug("could not start download", zap.Uint64("id", id), zap.Error(err))
			c.Response().Header().Set("Retry-After", retryAfter)
			return echo.NewHTTPError(http.StatusServiceUnavailable)
		}
		defer stream.Close()
	}

	status := http.StatusOK
	if offset > 0 {
		status = http.StatusPartialContent
	}
	header := c.Response().Header()
	header.Set(echo.HeaderContentType, file.MimeType)
	header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, file.Size, file.Size))
	header.Set(echo.HeaderContentLength, strconv.FormatInt(limit-offset, 10))
	header.Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, fileName))
	header.Set("Accept-Ranges", "bytes")
	c.Response().WriteHeader(status)

	if head {
		return nil
	}
	if _, err := io.Copy(c.Response(), stream); err != nil {
		// A vanished client is normal; anything else already ended the
		// stream silently and the partial response terminates here.
		if errors.Is(err, context.Canceled) {
			s.log.Debug("client went away mid-download", zap.Uint64("id", id))
		} else {
			s.log.Debug("download body ended early", zap.Uint64("id", id), zap.Error(err))
		}
	}
	return nil
}

// parseRange interprets a Range header as a [offset, limit) pair over a
// file of the given size. Anything unparsable falls back to the full
// file.
func parseRange(header string, size int64) (offset, limit int64) {
	limit = size
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, limit
	}
	start, end, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return 0, limit
	}
	if start != "" {
		if v, err := strconv.ParseInt(start, 10, 64); err == nil && v >= 0 {
			offset = v
		}
	}
	if end != "" {
		if v, err := strconv.ParseInt(end, 10, 64); err == nil && v > offset && v <= size {
			limit = v
		}
	}
	return offset, limit
}

// requesterIP determines the client address, honoring X-Forwarded-For
// only when the deployment says the proxy in front can be trusted.
func (s *Server) requesterIP(c echo.Context) string {
	if s.trustForwardHeaders {
		if fwd := c.Request().Header.Get("X-Forwarded-For"); fwd != "" {
			return fwd
		}
	}
	host, _, err := net.SplitHostPort(c.Request().RemoteAddr)
	if err != nil {
		return c.Request().RemoteAddr
	}
	return host
}
