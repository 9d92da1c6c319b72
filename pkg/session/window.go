package session

import (
	"fmt"
	"strings"
	"time"
)

// DefaultWindow is the bucket width for the stateless id generator.
const DefaultWindow = 5 * time.Minute

// Windower derives session ids with no store dependency by bucketing time
// into fixed-width windows. Two messages from the same identifier inside one
// bucket share an id; crossing a bucket boundary yields a new id regardless
// of how recently the last message arrived.
//
// This is not equivalent to Resolver's rolling inactivity gap: a message one
// second before a bucket boundary and another one second after it land in
// different sessions here, while the gap strategy would keep them together.
// Use it only on paths that can't afford a store round trip.
type Windower struct {
	// Window is the bucket width. Zero means DefaultWindow.
	Window time.Duration
}

// ID derives a session id from channel, identifier, and the bucket that
// contains now. The identifier is lowercased and scrubbed to the query
// API's id grammar.
func (w Windower) ID(ch Channel, identifier string, now time.Time) string {
	window := w.Window
	if window <= 0 {
		window = DefaultWindow
	}

	seg := idSegment(strings.ToLower(strings.TrimSpace(identifier)))
	if seg == "" {
		seg = "unknown"
	}

	windowMs := window.Milliseconds()
	bucket := now.UnixMilli() / windowMs * windowMs

	return fmt.Sprintf("%s-%s-%d", ch, seg, bucket)
}

// WindowedID derives a session id with the default 5-minute bucket width.
func WindowedID(ch Channel, identifier string, now time.Time) string {
	return Windower{}.ID(ch, identifier, now)
}
