package streaming

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"showtime/internal/storage"
)

// RangeError means a Range header cannot be satisfied for a file of Size bytes.
type RangeError struct {
	Header string
	Size   int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range %q not satisfiable for %d bytes", e.Header, e.Size)
}

// ContentRange is the value sent with a 416 response.
func (e *RangeError) ContentRange() string {
	return fmt.Sprintf("bytes */%d", e.Size)
}

var errMalformedRange = errors.New("malformed range")

// ParseRange resolves a single-range "bytes=" header against size. An empty
// header yields nil. The end is clamped to size-1 and an omitted end reads
// to EOF. Suffix ranges ("bytes=-500") select the last bytes. When several
// ranges are listed only the first is served.
func ParseRange(header string, size int64) (*storage.Range, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}
	rng, err := parseRange(header, size)
	if err != nil {
		return nil, &RangeError{Header: header, Size: size}
	}
	return rng, nil
}

func parseRange(header string, size int64) (*storage.Range, error) {
	rangeSet, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, errMalformedRange
	}
	if first, _, multi := strings.Cut(rangeSet, ","); multi {
		rangeSet = first
	}
	startStr, endStr, ok := strings.Cut(strings.TrimSpace(rangeSet), "-")
	if !ok {
		return nil, errMalformedRange
	}
	startStr, endStr = strings.TrimSpace(startStr), strings.TrimSpace(endStr)

	if startStr == "" {
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 || size <= 0 {
			return nil, errMalformedRange
		}
		n = min(n, size)
		return &storage.Range{Start: size - n, End: size - 1}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 || start >= size {
		return nil, errMalformedRange
	}
	end := size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return nil, errMalformedRange
		}
		end = min(end, size-1)
	}
	return &storage.Range{Start: start, End: end}, nil
}

// ContentRange formats the header for a satisfied range.
func ContentRange(rng storage.Range, size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.End, size)
}
