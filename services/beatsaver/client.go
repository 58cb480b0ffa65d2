package beatsaver

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"bundle-cache-go/logcolors"
	"bundle-cache-go/services/upstream"

	log "github.com/sirupsen/logrus"
)

const (
	ServiceName     = "beatsaver"
	DefaultBaseURL  = "https://api.beatsaver.com"
	DefaultPageSize = 20
)

// Client talks to the BeatSaver REST API
type Client struct {
	baseURL string
	api     *upstream.Client
}

// NewClient creates a client; an empty baseURL uses DefaultBaseURL.
func NewClient(baseURL string, api *upstream.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		api:     api,
	}
}

// queryBuilder appends escaped key=value pairs in call order
type queryBuilder struct {
	parts []string
}

func (q *queryBuilder) add(key, value string) {
	q.parts = append(q.parts, url.QueryEscape(key)+"="+url.QueryEscape(value))
}

func (q *queryBuilder) addFloat(key string, v *float64) {
	if v != nil {
		q.add(key, strconv.FormatFloat(*v, 'f', -1, 64))
	}
}

func (q *queryBuilder) addBool(key string, v *bool) {
	if v != nil {
		q.add(key, strconv.FormatBool(*v))
	}
}

func (q *queryBuilder) addString(key, v string) {
	if v != "" {
		q.add(key, v)
	}
}

func (q *queryBuilder) String() string {
	return strings.Join(q.parts, "&")
}

// BuildSearchURL returns the search URL for a query. Parameters are always
// emitted in the same order so identical inputs give identical URLs.
func (c *Client) BuildSearchURL(query string, page int, f SearchFilters) string {
	var q queryBuilder

	q.addString("q", strings.TrimSpace(query))

	sortOrder := f.SortOrder
	if sortOrder == "" {
		sortOrder = DefaultSearchFilters().SortOrder
	}
	q.add("sortOrder", sortOrder)

	tags := make([]string, 0, len(f.Tags)+len(f.ExcludeTags))
	tags = append(tags, f.Tags...)
	for _, t := range f.ExcludeTags {
		tags = append(tags, "!"+t)
	}
	if len(tags) > 0 {
		q.add("tags", strings.Join(tags, ","))
	}

	q.addFloat("minBpm", f.MinBPM)
	q.addFloat("maxBpm", f.MaxBPM)
	q.addFloat("minNps", f.MinNPS)
	q.addFloat("maxNps", f.MaxNPS)
	q.addFloat("minDuration", f.MinDuration)
	q.addFloat("maxDuration", f.MaxDuration)
	q.addFloat("minRating", f.MinRating)
	q.addFloat("maxRating", f.MaxRating)

	q.addBool("curated", f.Curated)
	q.addBool("verified", f.Verified)
	q.addBool("automapper", f.Automapper)

	q.addString("from", f.From)
	q.addString("to", f.To)
	q.addString("leaderboard", f.Leaderboard)

	if f.PageSize != 0 && f.PageSize != DefaultPageSize {
		q.add("pageSize", strconv.Itoa(f.PageSize))
	}

	return fmt.Sprintf("%s/search/text/%d?%s", c.baseURL, page, q.String())
}

// Search runs a text search
func (c *Client) Search(ctx context.Context, query string, page int, f SearchFilters) (*SearchResponse, error) {
	var resp SearchResponse
	if err := c.api.GetJSON(ctx, c.BuildSearchURL(query, page, f), &resp); err != nil {
		return nil, err
	}
	log.Debugf("%s Search %q page %d: %d result(s)", logcolors.LogBeatSaver, query, page, len(resp.Docs))
	return &resp, nil
}

// LatestURL returns the browse URL for a category
func (c *Client) LatestURL(category Category, pageSize int) string {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return fmt.Sprintf("%s/maps/latest?sort=%s&automapper=false&pageSize=%d", c.baseURL, url.QueryEscape(string(category)), pageSize)
}

// Latest lists maps for a browse category
func (c *Client) Latest(ctx context.Context, category Category, pageSize int) (*SearchResponse, error) {
	var resp SearchResponse
	if err := c.api.GetJSON(ctx, c.LatestURL(category, pageSize), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MapByID fetches the metadata of one map
func (c *Client) MapByID(ctx context.Context, id string) (*Map, error) {
	var m Map
	if err := c.api.GetJSON(ctx, c.baseURL+"/maps/id/"+url.PathEscape(id), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Download fetches a map archive from its download URL
func (c *Client) Download(ctx context.Context, downloadURL string) ([]byte, error) {
	log.Infof("%s Downloading %s", logcolors.LogBeatSaver, downloadURL)
	data, err := c.api.Get(ctx, downloadURL)
	if err != nil {
		return nil, err
	}
	log.Infof("%s Downloaded %d bytes from %s", logcolors.LogBeatSaver, len(data), downloadURL)
	return data, nil
}
