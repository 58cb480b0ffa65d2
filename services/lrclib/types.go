package lrclib

import "strings"

// Record is the LRCLIB lyrics record as returned by /get
type Record struct {
	ID           int64   `json:"id"`
	TrackName    string  `json:"trackName"`
	ArtistName   string  `json:"artistName"`
	AlbumName    string  `json:"albumName"`
	Duration     float64 `json:"duration"`
	Instrumental bool    `json:"instrumental"`
	PlainLyrics  *string `json:"plainLyrics"`
	SyncedLyrics *string `json:"syncedLyrics"`
}

// HasLyrics reports whether the record carries plain or synced lyrics text
func (r *Record) HasLyrics() bool {
	return r != nil && (r.PlainLyrics != nil || r.SyncedLyrics != nil)
}

// LyricsRequest asks for one track's lyrics. Optional fields are nil when the
// client did not send them.
type LyricsRequest struct {
	TrackName  string   `json:"trackName"`
	ArtistName *string  `json:"artistName,omitempty"`
	AlbumName  *string  `json:"albumName,omitempty"`
	Duration   *float64 `json:"duration,omitempty"`
}

// Key returns the request's cache key
func (r LyricsRequest) Key() string {
	return CacheKey(r.TrackName, r.ArtistName)
}

// CacheKey builds lower(artist + ":" + track). A nil artist becomes "unknown".
// Values are not trimmed so keys match the ones desktop clients compute.
func CacheKey(track string, artist *string) string {
	a := "unknown"
	if artist != nil {
		a = *artist
	}
	return strings.ToLower(a + ":" + track)
}

// CacheEntry is the answer to a cache lookup: a found record or a cached miss
type CacheEntry struct {
	Found bool    `json:"found"`
	Data  *Record `json:"data"`
}

// CacheStatus is the lightweight form of CacheEntry used for badges
type CacheStatus struct {
	Found     bool `json:"found"`
	HasLyrics bool `json:"hasLyrics"`
}
