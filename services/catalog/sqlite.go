package catalog

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"showtime/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

const mediaColumns = `id, storage_id, storage_name, path, filename, size,
	metadata_source, type, tmdb_id, omdb_id, tvdb_id, title, original_title,
	overview, poster_path, backdrop_path, release_date, rating, vote_count,
	genres, runtime, season_number, episode_number, thumbnail, indexed_at,
	enabled, last_played_at, play_count`

// SQLiteStore is the default catalog engine.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations. ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := "file::memory:?_busy_timeout=5000&_foreign_keys=on"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create catalog dir: %w", err)
			}
		}
		dsn = "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if path == ":memory:" {
		// each connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("catalog migrations: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply catalog migrations: %w", err)
	}
	for _, r := range results {
		log.Printf("[catalog] applied migration %s (%s)", r.Source.Path, r.Duration)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMedia(row rowScanner) (models.IndexedMedia, error) {
	var (
		m          models.IndexedMedia
		source     string
		kind       string
		genres     string
		indexedAt  int64
		enabled    bool
		lastPlayed sql.NullInt64
	)
	err := row.Scan(
		&m.ID, &m.StorageID, &m.StorageName, &m.Path, &m.Filename, &m.Size,
		&source, &kind, &m.TMDBID, &m.OMDBID, &m.TVDBID, &m.Title, &m.OriginalTitle,
		&m.Overview, &m.PosterPath, &m.BackdropPath, &m.ReleaseDate, &m.Rating, &m.VoteCount,
		&genres, &m.Runtime, &m.SeasonNumber, &m.EpisodeNumber, &m.Thumbnail, &indexedAt,
		&enabled, &lastPlayed, &m.PlayCount,
	)
	if err != nil {
		return m, err
	}
	m.Source = models.MetadataSource(source)
	m.Type = models.MediaKind(kind)
	m.Enabled = enabled
	m.Indexed = time.Unix(0, indexedAt).UTC()
	if lastPlayed.Valid {
		t := time.Unix(0, lastPlayed.Int64).UTC()
		m.LastPlayed = &t
	}
	if genres != "" && genres != "[]" {
		if err := json.Unmarshal([]byte(genres), &m.Genres); err != nil {
			log.Printf("[catalog] bad genres for %s: %v", m.ID, err)
		}
	}
	return m, nil
}

func mediaArgs(m models.IndexedMedia) []any {
	genres := "[]"
	if len(m.Genres) > 0 {
		if data, err := json.Marshal(m.Genres); err == nil {
			genres = string(data)
		}
	}
	var lastPlayed any
	if m.LastPlayed != nil {
		lastPlayed = m.LastPlayed.UnixNano()
	}
	return []any{
		m.ID, m.StorageID, m.StorageName, m.Path, m.Filename, m.Size,
		string(m.Source), string(m.Type), m.TMDBID, m.OMDBID, m.TVDBID, m.Title, m.OriginalTitle,
		m.Overview, m.PosterPath, m.BackdropPath, m.ReleaseDate, m.Rating, m.VoteCount,
		genres, m.Runtime, m.SeasonNumber, m.EpisodeNumber, m.Thumbnail, m.Indexed.UnixNano(),
		m.Enabled, lastPlayed, m.PlayCount,
	}
}

func (s *SQLiteStore) FindOne(ctx context.Context, storageID, path string) (*models.IndexedMedia, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mediaColumns+` FROM media WHERE storage_id = ? AND path = ?`, storageID, path)
	m, err := scanMedia(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find media: %w", err)
	}
	return &m, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.IndexedMedia, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mediaColumns+` FROM media WHERE id = ?`, id)
	m, err := scanMedia(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get media: %w", err)
	}
	return &m, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (f Filter) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if len(f.IDs) > 0 {
		clauses = append(clauses, "id IN (?"+strings.Repeat(",?", len(f.IDs)-1)+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	if f.StorageID != "" {
		clauses = append(clauses, "storage_id = ?")
		args = append(args, f.StorageID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.TMDBID != 0 {
		clauses = append(clauses, "tmdb_id = ?")
		args = append(args, f.TMDBID)
	}
	if f.Title != "" {
		clauses = append(clauses, "title = ? COLLATE NOCASE")
		args = append(args, f.Title)
	}
	if f.EnabledOnly {
		clauses = append(clauses, "enabled = 1")
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		pattern := "%" + escapeLike(strings.ToLower(q)) + "%"
		clauses = append(clauses, `(LOWER(title) LIKE ? ESCAPE '\' OR LOWER(filename) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (o Order) clause() string {
	switch o {
	case OrderEpisode:
		return " ORDER BY season_number, episode_number, filename"
	case OrderPath:
		return " ORDER BY storage_id, path"
	default:
		return " ORDER BY indexed_at DESC, id"
	}
}

func (s *SQLiteStore) Find(ctx context.Context, opts FindOptions) ([]models.IndexedMedia, error) {
	where, args := opts.where()
	query := `SELECT ` + mediaColumns + ` FROM media` + where + opts.Order.clause()
	if opts.Limit > 0 || opts.Skip > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, opts.Skip)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find media: %w", err)
	}
	defer rows.Close()

	out := make([]models.IndexedMedia, 0)
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("scan media: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Count(ctx context.Context, f Filter) (int64, error) {
	where, args := f.where()
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM media`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count media: %w", err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

func placeholders(n int) string {
	return "?" + strings.Repeat(",?", n-1)
}

func (s *SQLiteStore) Insert(ctx context.Context, m models.IndexedMedia) error {
	if m.ID == "" {
		return ErrIDMissing
	}
	args := mediaArgs(m)
	_, err := s.db.ExecContext(ctx, `INSERT INTO media (`+mediaColumns+`) VALUES (`+placeholders(len(args))+`)`, args...)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert media: %w", err)
	}
	return nil
}

const updateSet = `storage_id = ?, storage_name = ?, path = ?, filename = ?, size = ?,
	metadata_source = ?, type = ?, tmdb_id = ?, omdb_id = ?, tvdb_id = ?, title = ?, original_title = ?,
	overview = ?, poster_path = ?, backdrop_path = ?, release_date = ?, rating = ?, vote_count = ?,
	genres = ?, runtime = ?, season_number = ?, episode_number = ?, thumbnail = ?, indexed_at = ?,
	enabled = ?, last_played_at = ?, play_count = ?`

func (s *SQLiteStore) Update(ctx context.Context, m models.IndexedMedia) error {
	args := mediaArgs(m)
	args = append(args[1:], m.ID)
	res, err := s.db.ExecContext(ctx, `UPDATE media SET `+updateSet+` WHERE id = ?`, args...)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("update media: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, m models.IndexedMedia) error {
	if m.ID == "" {
		return ErrIDMissing
	}
	args := mediaArgs(m)
	_, err := s.db.ExecContext(ctx, `INSERT INTO media (`+mediaColumns+`) VALUES (`+placeholders(len(args))+`)
		ON CONFLICT (storage_id, path) DO UPDATE SET
			storage_name = excluded.storage_name, filename = excluded.filename, size = excluded.size,
			metadata_source = excluded.metadata_source, type = excluded.type, tmdb_id = excluded.tmdb_id,
			omdb_id = excluded.omdb_id, tvdb_id = excluded.tvdb_id, title = excluded.title,
			original_title = excluded.original_title, overview = excluded.overview,
			poster_path = excluded.poster_path, backdrop_path = excluded.backdrop_path,
			release_date = excluded.release_date, rating = excluded.rating, vote_count = excluded.vote_count,
			genres = excluded.genres, runtime = excluded.runtime, season_number = excluded.season_number,
			episode_number = excluded.episode_number, thumbnail = excluded.thumbnail,
			indexed_at = excluded.indexed_at, enabled = excluded.enabled,
			last_played_at = excluded.last_played_at, play_count = excluded.play_count`, args...)
	if err != nil {
		return fmt.Errorf("upsert media: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateSize(ctx context.Context, id string, size int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE media SET size = ? WHERE id = ?`, size, id)
	if err != nil {
		return fmt.Errorf("update media size: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteMany(ctx context.Context, f Filter) (int64, error) {
	where, args := f.where()
	res, err := s.db.ExecContext(ctx, `DELETE FROM media`+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete media: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
