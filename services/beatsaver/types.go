package beatsaver

import "strings"

// SearchResponse is a page of maps from search or latest
type SearchResponse struct {
	Docs []Map `json:"docs"`
}

// Map is the metadata record of one published map
type Map struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Metadata    Metadata  `json:"metadata"`
	Stats       MapStats  `json:"stats"`
	Uploaded    string    `json:"uploaded"`
	Automapper  bool      `json:"automapper"`
	Versions    []Version `json:"versions"`
}

type Metadata struct {
	BPM             float64 `json:"bpm"`
	Duration        int     `json:"duration"`
	SongName        string  `json:"songName"`
	SongSubName     string  `json:"songSubName"`
	SongAuthorName  string  `json:"songAuthorName"`
	LevelAuthorName string  `json:"levelAuthorName"`
}

type MapStats struct {
	Plays     int     `json:"plays"`
	Downloads int     `json:"downloads"`
	Upvotes   int     `json:"upvotes"`
	Downvotes int     `json:"downvotes"`
	Score     float64 `json:"score"`
}

// Version is one uploaded revision of a map
type Version struct {
	Hash        string `json:"hash"`
	Key         string `json:"key"`
	State       string `json:"state"`
	DownloadURL string `json:"downloadURL"`
	CoverURL    string `json:"coverURL"`
	PreviewURL  string `json:"previewURL"`
	Diffs       []Diff `json:"diffs"`
}

type Diff struct {
	NJS            float64 `json:"njs"`
	Offset         float64 `json:"offset"`
	Notes          int     `json:"notes"`
	Bombs          int     `json:"bombs"`
	Obstacles      int     `json:"obstacles"`
	NPS            float64 `json:"nps"`
	Characteristic string  `json:"characteristic"`
	Difficulty     string  `json:"difficulty"`
}

// Category is a browse listing served by /maps/latest
type Category string

const (
	CategoryCurated        Category = "CURATED"
	CategoryLastPublished  Category = "LAST_PUBLISHED"
	CategoryFirstPublished Category = "FIRST_PUBLISHED"
	CategoryUpdated        Category = "UPDATED"
	CategoryCreated        Category = "CREATED"
)

// ParseCategory accepts a category name in any case
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	switch c {
	case CategoryCurated, CategoryLastPublished, CategoryFirstPublished, CategoryUpdated, CategoryCreated:
		return c, true
	}
	return "", false
}

// SearchFilters are the optional search parameters. Nil pointers and empty
// strings are left out of the query.
type SearchFilters struct {
	SortOrder   string
	Tags        []string
	ExcludeTags []string
	MinBPM      *float64
	MaxBPM      *float64
	MinNPS      *float64
	MaxNPS      *float64
	MinDuration *float64
	MaxDuration *float64
	MinRating   *float64
	MaxRating   *float64
	Curated     *bool
	Verified    *bool
	Automapper  *bool
	From        string
	To          string
	Leaderboard string
	PageSize    int
}

// DefaultSearchFilters sorts by relevance with the API's default page size
func DefaultSearchFilters() SearchFilters {
	return SearchFilters{
		SortOrder: "Relevance",
		PageSize:  DefaultPageSize,
	}
}

// DownloadRequest asks for one map archive to be fetched and cached
type DownloadRequest struct {
	MapID       string `json:"mapId"`
	DownloadURL string `json:"url"`
}

// CacheKey is the trimmed map id
func CacheKey(mapID string) string {
	return strings.TrimSpace(mapID)
}
