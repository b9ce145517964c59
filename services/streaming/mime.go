package streaming

import (
	"bytes"
	"io"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".wmv":  "video/x-ms-wmv",
	".flv":  "video/x-flv",
	".webm": "video/webm",
	".mpg":  "video/mpeg",
	".mpeg": "video/mpeg",
	".srt":  "application/x-subrip",
	".vtt":  "text/vtt",
	".nfo":  "text/plain; charset=utf-8",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// nativeExtensions play in browsers without transcoding.
var nativeExtensions = map[string]struct{}{
	".mp4": {},
	".m4v": {},
}

func isNative(name string) bool {
	_, ok := nativeExtensions[strings.ToLower(path.Ext(name))]
	return ok
}

func contentTypeFor(name string) (string, bool) {
	ct, ok := contentTypes[strings.ToLower(path.Ext(name))]
	return ct, ok
}

const sniffLen = 3072

// sniff detects the type of body from its first bytes and returns a reader
// that replays them.
func sniff(body io.ReadCloser) (string, io.ReadCloser, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(body, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", body, err
	}
	head = head[:n]
	mt := mimetype.Detect(head)
	return mt.String(), &replayBody{Reader: io.MultiReader(bytes.NewReader(head), body), Closer: body}, nil
}

type replayBody struct {
	io.Reader
	io.Closer
}
