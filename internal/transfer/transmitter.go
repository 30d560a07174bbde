// Package transfer streams files to HTTP clients with single byte-range
// support.
package transfer

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/defeatedperson/ykc/pkg/logger"
)

// FileHeaders are the response headers Serve may set.
var FileHeaders = []string{
	"Content-Type", "Accept-Ranges", "Cache-Control", "Pragma",
	"Content-Disposition", "Content-Range", "Content-Length",
}

// ChunkSize is the unit in which file bodies are written and flushed.
const ChunkSize = 8 * 1024

var rangePattern = regexp.MustCompile(`^bytes=(\d+)-(\d*)$`)

var mimeTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"svg":  "image/svg+xml",
	"bmp":  "image/bmp",
	"ico":  "image/x-icon",

	"pdf":  "application/pdf",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"xls":  "application/vnd.ms-excel",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"ppt":  "application/vnd.ms-powerpoint",
	"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"txt":  "text/plain",
	"rtf":  "application/rtf",

	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"ogg":  "audio/ogg",
	"flac": "audio/flac",
	"m4a":  "audio/mp4",

	"mp4":  "video/mp4",
	"avi":  "video/x-msvideo",
	"mkv":  "video/x-matroska",
	"mov":  "video/quicktime",
	"wmv":  "video/x-ms-wmv",
	"flv":  "video/x-flv",
	"webm": "video/webm",

	"zip": "application/zip",
	"rar": "application/x-rar-compressed",
	"7z":  "application/x-7z-compressed",
	"tar": "application/x-tar",
	"gz":  "application/gzip",

	"html": "text/html",
	"css":  "text/css",
	"js":   "application/javascript",
	"json": "application/json",
	"xml":  "application/xml",
	"php":  "text/plain",
	"py":   "text/plain",
	"java": "text/plain",
	"cpp":  "text/plain",
	"c":    "text/plain",
}

// MIMEType maps a file name to its content type by extension.
func MIMEType(name string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if t, ok := mimeTypes[ext]; ok {
		return t
	}
	return "application/octet-stream"
}

// ContentDisposition builds the header value for name. The plain filename
// parameter is reduced to ASCII; filename* carries the exact UTF-8 name.
func ContentDisposition(name string, forceDownload bool) string {
	kind := "inline"
	if forceDownload {
		kind = "attachment"
	}

	var ascii strings.Builder
	for _, r := range name {
		switch {
		case r == '"' || r == '\\':
			ascii.WriteByte('\\')
			ascii.WriteRune(r)
		case r < 0x20 || r == 0x7f:
		case r < 0x80:
			ascii.WriteRune(r)
		default:
			ascii.WriteByte('_')
		}
	}

	return fmt.Sprintf(`%s; filename="%s"; filename*=UTF-8''%s`, kind, ascii.String(), extValue(name))
}

// extValue percent-encodes every byte of s outside the RFC 5987 attr-char set.
func extValue(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAttrChar(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isAttrChar(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("!#$&+-.^_`|~", c) >= 0
}

type byteRange struct {
	start, end int64
}

// parseRange reads a single "bytes=start-end" range. ok is false when the
// header is absent or not in that form, in which case the whole file is sent.
// satisfiable is false when the bounds fall outside the file.
func parseRange(header string, size int64) (r byteRange, ok, satisfiable bool) {
	m := rangePattern.FindStringSubmatch(strings.TrimSpace(header))
	if m == nil {
		return byteRange{}, false, false
	}

	start, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return byteRange{}, true, false
	}
	end := size - 1
	if m[2] != "" {
		if end, err = strconv.ParseInt(m[2], 10, 64); err != nil {
			return byteRange{}, true, false
		}
	}

	if start > end || start < 0 || start > size-1 || end > size-1 {
		return byteRange{}, true, false
	}
	return byteRange{start: start, end: end}, true, true
}

// Serve writes the file at filePath to w. Errors returned happen before any
// header was set, so the caller can still answer with an error body.
// Failures after that point only end the response and are logged.
func Serve(w http.ResponseWriter, filePath, fileName string, forceDownload bool, rangeHeader string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return errors.New("not a regular file")
	}
	size := info.Size()

	r, isRange, satisfiable := parseRange(rangeHeader, size)
	if isRange && satisfiable {
		if _, err := f.Seek(r.start, io.SeekStart); err != nil {
			return err
		}
	}

	h := w.Header()
	h.Set("Content-Type", MIMEType(fileName))
	h.Set("Accept-Ranges", "bytes")
	h.Set("Cache-Control", "no-cache, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Content-Disposition", ContentDisposition(fileName, forceDownload))

	switch {
	case isRange && !satisfiable:
		h.Del("Content-Disposition")
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return nil

	case isRange:
		length := r.end - r.start + 1
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", r.start, r.end, size))
		h.Set("Content-Length", strconv.FormatInt(length, 10))
		w.WriteHeader(http.StatusPartialContent)
		stream(w, f, length, fileName)

	default:
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		stream(w, f, size, fileName)
	}
	return nil
}

// stream copies n bytes from src in ChunkSize pieces, flushing after each.
func stream(w http.ResponseWriter, src io.Reader, n int64, name string) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, ChunkSize)

	remaining := n
	for remaining > 0 {
		chunk := buf
		if remaining < int64(len(chunk)) {
			chunk = chunk[:remaining]
		}

		read, err := io.ReadFull(src, chunk)
		if read > 0 {
			if _, werr := w.Write(chunk[:read]); werr != nil {
				logger.Debug().Err(werr).Str("file", name).Msg("client went away during transfer")
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			remaining -= int64(read)
		}
		if err != nil {
			if remaining > 0 {
				logger.Error().Err(err).Str("file", name).Int64("missing", remaining).Msg("file read failed during transfer")
			}
			return
		}
	}
}
