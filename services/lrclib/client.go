package lrclib

import (
	"context"
	"errors"
	"math"
	"net/url"
	"strconv"
	"strings"

	"bundle-cache-go/logcolors"
	"bundle-cache-go/services/upstream"

	log "github.com/sirupsen/logrus"
)

const (
	ServiceName    = "lyrics"
	DefaultBaseURL = "https://lrclib.net/api"
	ClientHeader   = "Lrclib-Client"
)

// Client talks to the LRCLIB API
type Client struct {
	baseURL string
	api     *upstream.Client
}

// NewClient creates a client; an empty baseURL uses DefaultBaseURL. The
// upstream client should carry the ClientHeader.
func NewClient(baseURL string, api *upstream.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		api:     api,
	}
}

// BuildGetURL returns the /get URL for a request. Artist and album are sent
// only when non-empty, duration only when positive and rounded to seconds.
func (c *Client) BuildGetURL(req LyricsRequest) string {
	params := []string{"track_name=" + url.QueryEscape(req.TrackName)}
	if req.ArtistName != nil && *req.ArtistName != "" {
		params = append(params, "artist_name="+url.QueryEscape(*req.ArtistName))
	}
	if req.AlbumName != nil && *req.AlbumName != "" {
		params = append(params, "album_name="+url.QueryEscape(*req.AlbumName))
	}
	if req.Duration != nil && *req.Duration > 0 {
		params = append(params, "duration="+strconv.FormatInt(int64(math.Round(*req.Duration)), 10))
	}
	return c.baseURL + "/get?" + strings.Join(params, "&")
}

// Get looks up a track. A missing track returns an error matching
// upstream.ErrNotFound.
func (c *Client) Get(ctx context.Context, req LyricsRequest) (*Record, error) {
	var rec Record
	if err := c.api.GetJSON(ctx, c.BuildGetURL(req), &rec); err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			log.Debugf("%s No lyrics for %q", logcolors.LogLrclib, req.TrackName)
		}
		return nil, err
	}
	log.Debugf("%s Found lyrics for %q (id %d)", logcolors.LogLrclib, req.TrackName, rec.ID)
	return &rec, nil
}
