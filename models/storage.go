package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// StorageType identifies the protocol spoken by a remote store.
type StorageType string

const (
	StorageWebDAV StorageType = "webdav"
	StorageFTP    StorageType = "ftp"
	StorageSMB    StorageType = "smb"
)

// Valid reports whether t is one of the supported protocols.
func (t StorageType) Valid() bool {
	switch t {
	case StorageWebDAV, StorageFTP, StorageSMB:
		return true
	}
	return false
}

// StorageConfig holds the connection parameters for one remote store.
// Adapters never mutate it; a changed config means a new adapter.
type StorageConfig struct {
	ID        string      `json:"id" yaml:"id"`
	Type      StorageType `json:"type" yaml:"type"`
	Name      string      `json:"name" yaml:"name"`
	Host      string      `json:"host" yaml:"host"`
	Port      int         `json:"port,omitempty" yaml:"port,omitempty"`
	Username  string      `json:"username,omitempty" yaml:"username,omitempty"`
	Password  string      `json:"password,omitempty" yaml:"password,omitempty"`
	BasePath  string      `json:"basePath,omitempty" yaml:"basePath,omitempty"`
	ShareName string      `json:"shareName,omitempty" yaml:"shareName,omitempty"` // smb only
	Secure    bool        `json:"secure,omitempty" yaml:"secure,omitempty"`
	Enabled   *bool       `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// IsEnabled treats a missing enabled flag as true.
func (c StorageConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Redacted returns a copy without the password.
func (c StorageConfig) Redacted() StorageConfig {
	c.Password = ""
	return c
}

// Equal compares every connection parameter.
func (c StorageConfig) Equal(o StorageConfig) bool {
	return c.ID == o.ID &&
		c.Type == o.Type &&
		c.Name == o.Name &&
		c.Host == o.Host &&
		c.Port == o.Port &&
		c.Username == o.Username &&
		c.Password == o.Password &&
		c.BasePath == o.BasePath &&
		c.ShareName == o.ShareName &&
		c.Secure == o.Secure &&
		c.IsEnabled() == o.IsEnabled()
}

// Normalize trims whitespace and lowercases the type.
func (c StorageConfig) Normalize() StorageConfig {
	c.ID = strings.TrimSpace(c.ID)
	c.Name = strings.TrimSpace(c.Name)
	c.Host = strings.TrimSpace(c.Host)
	c.Type = StorageType(strings.ToLower(strings.TrimSpace(string(c.Type))))
	c.BasePath = strings.TrimSpace(c.BasePath)
	c.ShareName = strings.TrimSpace(c.ShareName)
	return c
}

// StorageConnection is a persisted connection snapshot used to rebuild
// adapters after a restart.
type StorageConnection struct {
	StorageConfig
	LastIndexed *time.Time `json:"lastIndexed,omitempty"`
	MediaCount  int        `json:"mediaCount"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// EntryType distinguishes files from directories in a listing.
type EntryType string

const (
	EntryFile      EntryType = "file"
	EntryDirectory EntryType = "directory"
)

// FileEntry is one node of a remote listing.
type FileEntry struct {
	Name       string     `json:"name"`
	Path       string     `json:"path"`
	Type       EntryType  `json:"type"`
	Size       int64      `json:"size,omitempty"`
	ModifiedAt *time.Time `json:"modifiedAt,omitempty"`
	IsVideo    bool       `json:"isVideo"`
}

// IsDir reports whether the entry is a directory.
func (e FileEntry) IsDir() bool { return e.Type == EntryDirectory }

var (
	ErrStorageIDRequired   = errors.New("storage id is required")
	ErrStorageNameRequired = errors.New("storage name is required")
	ErrStorageHostRequired = errors.New("storage host is required")
	ErrStorageTypeInvalid  = errors.New("storage type must be one of webdav, ftp, smb")
)

// Validate checks the fields every adapter needs.
func (c StorageConfig) Validate() error {
	switch {
	case strings.TrimSpace(c.ID) == "":
		return ErrStorageIDRequired
	case strings.TrimSpace(c.Name) == "":
		return ErrStorageNameRequired
	case strings.TrimSpace(c.Host) == "":
		return ErrStorageHostRequired
	case !c.Type.Valid():
		return fmt.Errorf("%w: %q", ErrStorageTypeInvalid, c.Type)
	}
	return nil
}
