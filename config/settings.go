package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sethvargo/go-password/password"
)

// Settings represents the application configuration persisted to disk.
type Settings struct {
	Server    ServerSettings    `json:"server"`
	Storage   StorageSettings   `json:"storage"`
	Metadata  MetadataSettings  `json:"metadata"`
	Cache     CacheSettings     `json:"cache"`
	Database  DatabaseSettings  `json:"database"`
	Indexing  IndexingSettings  `json:"indexing"`
	Transcode TranscodeSettings `json:"transcode"`
	Security  SecuritySettings  `json:"security"`
	Log       LogConfig         `json:"log"`
}

type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// StorageSettings locates the declarative connection list.
type StorageSettings struct {
	ConfigPath        string `json:"configPath"`
	ExampleConfigPath string `json:"exampleConfigPath"`
	ConfigURL         string `json:"configUrl"`
	CacheTTLSeconds   int    `json:"cacheTtlSeconds"`
	Watch             bool   `json:"watch"`
}

type MetadataSettings struct {
	TMDBAPIKey string `json:"tmdbApiKey"`
	OMDBAPIKey string `json:"omdbApiKey"`
	TVDBAPIKey string `json:"tvdbApiKey"`
	Language   string `json:"language"`
}

type CacheSettings struct {
	Directory        string `json:"directory"`
	MetadataTTLHours int    `json:"metadataTtlHours"`
	MemoryEntries    int    `json:"memoryEntries"`
}

// DatabaseSettings selects the catalog engine: "sqlite" or "json".
type DatabaseSettings struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
}

type IndexingSettings struct {
	// MetadataWorkers bounds concurrent provider lookups; 1 is sequential.
	MetadataWorkers int `json:"metadataWorkers"`
}

// TranscodeSettings configures on-the-fly conversion of non-MP4 files.
type TranscodeSettings struct {
	Enabled    bool   `json:"enabled"`
	FFmpegPath string `json:"ffmpegPath"`
	Preset     string `json:"preset"`
	CRF        int    `json:"crf"`
	AudioCodec string `json:"audioCodec"`
}

type SecuritySettings struct {
	// CredentialSecret keys the encryption of stored connection passwords.
	CredentialSecret string `json:"credentialSecret"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	File       string `json:"file"`
	MaxSize    int    `json:"maxSizeMb"`
	MaxAge     int    `json:"maxAgeDays"`
	MaxBackups int    `json:"maxBackups"`
	Compress   bool   `json:"compress"`
}

const (
	DriverSQLite = "sqlite"
	DriverJSON   = "json"
)

func DefaultSettings() Settings {
	return Settings{
		Server: ServerSettings{Host: "0.0.0.0", Port: 3001},
		Storage: StorageSettings{
			ConfigPath:        "storage.config.yaml",
			ExampleConfigPath: "storage.config.example.yaml",
			CacheTTLSeconds:   30,
			Watch:             true,
		},
		Metadata:  MetadataSettings{Language: "en-US"},
		Cache:     CacheSettings{Directory: "cache", MetadataTTLHours: 24, MemoryEntries: 512},
		Database:  DatabaseSettings{Driver: DriverSQLite, Path: "cache/library.db"},
		Indexing:  IndexingSettings{MetadataWorkers: 1},
		Transcode: TranscodeSettings{Enabled: true, FFmpegPath: "ffmpeg", Preset: "ultrafast", CRF: 23, AudioCodec: "aac"},
		Log: LogConfig{
			File:       "cache/logs/showtime.log",
			MaxSize:    50, // 50 MB per file
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
	}
}

// Manager loads and persists settings to a JSON file.
type Manager struct {
	path   string
	getenv func(string) string
}

func NewManager(configPath string) *Manager {
	return &Manager{path: configPath, getenv: os.Getenv}
}

// Path returns the settings file location.
func (m *Manager) Path() string {
	return m.path
}

// EnsureDir ensures parent directory exists.
func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Load reads settings.json from disk or creates defaults if missing.
// Environment overrides are applied to the returned value but never saved.
func (m *Manager) Load() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}
	if _, err := os.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		defaults := DefaultSettings()
		if err := m.Save(defaults); err != nil {
			return Settings{}, err
		}
		m.applyEnv(&defaults)
		return defaults, nil
	}

	data, err := os.ReadFile(m.path)
	if err != nil {
		return Settings{}, err
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, err
	}

	backfill(&s)
	m.applyEnv(&s)
	return s, nil
}

// backfill fills settings introduced after the file was written.
func backfill(s *Settings) {
	d := DefaultSettings()

	if strings.TrimSpace(s.Server.Host) == "" {
		s.Server.Host = d.Server.Host
	}
	if s.Server.Port == 0 {
		s.Server.Port = d.Server.Port
	}

	if strings.TrimSpace(s.Storage.ConfigPath) == "" {
		s.Storage.ConfigPath = d.Storage.ConfigPath
	}
	if strings.TrimSpace(s.Storage.ExampleConfigPath) == "" {
		s.Storage.ExampleConfigPath = d.Storage.ExampleConfigPath
	}
	if s.Storage.CacheTTLSeconds == 0 {
		s.Storage.CacheTTLSeconds = d.Storage.CacheTTLSeconds
	}

	if strings.TrimSpace(s.Metadata.Language) == "" {
		s.Metadata.Language = d.Metadata.Language
	}

	if strings.TrimSpace(s.Cache.Directory) == "" {
		s.Cache.Directory = d.Cache.Directory
	}
	if s.Cache.MemoryEntries == 0 {
		s.Cache.MemoryEntries = d.Cache.MemoryEntries
	}

	switch strings.ToLower(strings.TrimSpace(s.Database.Driver)) {
	case DriverJSON:
		s.Database.Driver = DriverJSON
	default:
		s.Database.Driver = DriverSQLite
	}
	if strings.TrimSpace(s.Database.Path) == "" {
		if s.Database.Driver == DriverJSON {
			s.Database.Path = filepath.Join(s.Cache.Directory, "library.json")
		} else {
			s.Database.Path = d.Database.Path
		}
	}

	if s.Indexing.MetadataWorkers <= 0 {
		s.Indexing.MetadataWorkers = d.Indexing.MetadataWorkers
	}

	if strings.TrimSpace(s.Transcode.FFmpegPath) == "" {
		s.Transcode.FFmpegPath = d.Transcode.FFmpegPath
	}
	if strings.TrimSpace(s.Transcode.Preset) == "" {
		s.Transcode.Preset = d.Transcode.Preset
	}
	if s.Transcode.CRF == 0 {
		s.Transcode.CRF = d.Transcode.CRF
	}
	if strings.TrimSpace(s.Transcode.AudioCodec) == "" {
		s.Transcode.AudioCodec = d.Transcode.AudioCodec
	}

	if strings.TrimSpace(s.Log.File) == "" {
		s.Log = d.Log
	}
}

func (m *Manager) applyEnv(s *Settings) {
	getenv := m.getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	override(&s.Metadata.TMDBAPIKey, "TMDB_API_KEY")
	override(&s.Metadata.OMDBAPIKey, "OMDB_API_KEY")
	override(&s.Metadata.TVDBAPIKey, "TVDB_API_KEY")
	override(&s.Storage.ConfigURL, "STORAGE_CONFIG_URL")
	override(&s.Transcode.FFmpegPath, "FFMPEG_PATH")
}

// Save writes the provided settings to disk atomically.
func (m *Manager) Save(s Settings) error {
	if m.path == "" {
		return errors.New("config path not set")
	}
	if err := m.EnsureDir(); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, m.path)
}

// EnsureCredentialSecret returns the stored credential secret, generating
// and persisting one on first use.
func (m *Manager) EnsureCredentialSecret() (string, error) {
	if _, err := m.Load(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(m.path)
	if err != nil {
		return "", err
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return "", err
	}
	if secret := strings.TrimSpace(s.Security.CredentialSecret); secret != "" {
		return secret, nil
	}

	secret, err := password.Generate(48, 10, 0, false, true)
	if err != nil {
		return "", fmt.Errorf("generate credential secret: %w", err)
	}
	backfill(&s)
	s.Security.CredentialSecret = secret
	if err := m.Save(s); err != nil {
		return "", err
	}
	return secret, nil
}
