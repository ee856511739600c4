package stream

import "regexp"

// Only single-range requests of the form "bytes=start-" or
// "bytes=start-end" are supported, which covers what video players send
// for seek and scrubbing.
var rangePattern = regexp.MustCompile(`^bytes=(\d+)-(\d*)$`)

// ParseRange parses a Range header value against a blob of the given size.
// The end byte is optional and defaults to size-1; an end beyond the blob
// is clamped to size-1. ok is false for malformed or unsatisfiable ranges;
// callers fall back to a full 200 response in that case rather than
// rejecting the request, since players recover cleanly from full content
// but not from an error.
func ParseRange(header string, size int64) (start, end int64, ok bool) {
	m := rangePattern.FindStringSubmatch(header)
	if m == nil || size <= 0 {
		return 0, 0, false
	}

	start = parseDecimal(m[1])
	if m[2] == "" {
		end = size - 1
	} else {
		end = parseDecimal(m[2])
	}

	if end > size-1 {
		end = size - 1
	}
	if start < 0 || start > end {
		return 0, 0, false
	}
	return start, end, true
}

// parseDecimal converts a digit-only string, saturating on overflow.
// The regexp guarantees the input contains only digits.
func parseDecimal(s string) int64 {
	var n int64
	for i := 0; i < len(s); i++ {
		d := int64(s[i] - '0')
		if n > (1<<63-1-d)/10 {
			return 1<<63 - 1
		}
		n = n*10 + d
	}
	return n
}
