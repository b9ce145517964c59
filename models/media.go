package models

import "time"

// MetadataSource tags where a record's metadata came from.
type MetadataSource string

const (
	SourceTMDB   MetadataSource = "tmdb"
	SourceOMDB   MetadataSource = "omdb"
	SourceTVDB   MetadataSource = "tvdb"
	SourceParsed MetadataSource = "parsed"
)

// MediaKind is movie or tv.
type MediaKind string

const (
	KindMovie MediaKind = "movie"
	KindTV    MediaKind = "tv"
)

// MediaMetadata is the provider-neutral metadata record produced by the resolver.
type MediaMetadata struct {
	Source        MetadataSource `json:"metadataSource"`
	Type          MediaKind      `json:"type"`
	TMDBID        int64          `json:"tmdbId,omitempty"`
	OMDBID        string         `json:"omdbId,omitempty"` // imdb id as returned by omdb
	TVDBID        int64          `json:"tvdbId,omitempty"`
	Title         string         `json:"title"`
	OriginalTitle string         `json:"originalTitle,omitempty"`
	Overview      string         `json:"overview,omitempty"`
	PosterPath    string         `json:"posterPath,omitempty"`
	BackdropPath  string         `json:"backdropPath,omitempty"`
	ReleaseDate   string         `json:"releaseDate,omitempty"`
	Rating        float64        `json:"rating,omitempty"`
	VoteCount     int            `json:"voteCount,omitempty"`
	Genres        []string       `json:"genres,omitempty"`
	Runtime       int            `json:"runtime,omitempty"`
	SeasonNumber  int            `json:"seasonNumber,omitempty"`
	EpisodeNumber int            `json:"episodeNumber,omitempty"`
}

// IndexedMedia is one catalog row. (StorageID, Path) is unique.
type IndexedMedia struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	Path        string `json:"path"`
	StorageID   string `json:"storageId"`
	StorageName string `json:"storageName"`
	Size        int64  `json:"size"`
	MediaMetadata
	Thumbnail  string     `json:"thumbnail,omitempty"`
	Indexed    time.Time  `json:"indexed"`
	Enabled    bool       `json:"enabled"`
	LastPlayed *time.Time `json:"lastPlayed,omitempty"`
	PlayCount  int        `json:"playCount"`
}

// LibraryStats aggregates enabled catalog rows.
type LibraryStats struct {
	Total   int64 `json:"total"`
	Movies  int64 `json:"movies"`
	TVShows int64 `json:"tvShows"`
}

// MediaGroup is the read-time projection of tv episodes under one series.
type MediaGroup struct {
	IndexedMedia
	EpisodeCount int            `json:"episodeCount,omitempty"`
	Episodes     []IndexedMedia `json:"episodes,omitempty"`
}

// MediaPage is one page of a library listing.
type MediaPage struct {
	Media   []MediaGroup `json:"media"`
	Total   int          `json:"total"`
	HasMore bool         `json:"hasMore"`
}

// MediaDetail is a single record, with its sibling episodes for tv.
type MediaDetail struct {
	IndexedMedia
	Episodes []IndexedMedia `json:"episodes,omitempty"`
}

// MetadataSearchResult is a lightweight provider search hit.
type MetadataSearchResult struct {
	ID           int64     `json:"id"`
	Type         MediaKind `json:"type"`
	Title        string    `json:"title"`
	Overview     string    `json:"overview,omitempty"`
	ReleaseDate  string    `json:"releaseDate,omitempty"`
	PosterPath   string    `json:"posterPath,omitempty"`
	BackdropPath string    `json:"backdropPath,omitempty"`
	Rating       float64   `json:"rating,omitempty"`
}
