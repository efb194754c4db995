// ABOUTME: Invitation list sources: YAML/JSON invited_users file, TOML secrets, static and merged
// ABOUTME: FileSource also persists administrative edits with write-temp-then-rename

package invite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/benedictkwok/cover-letter-assistant/internal/config"
	"github.com/benedictkwok/cover-letter-assistant/internal/identity"
)

// SecretsDefaultDate is the invited date given to entries from a secrets file,
// which carries names only.
var SecretsDefaultDate = time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC)

// fileDocument is the on-disk layout of the invitation file.
type fileDocument struct {
	InvitedUsers map[string]fileEntry `yaml:"invited_users" json:"invited_users"`
}

type fileEntry struct {
	Name        string `yaml:"name" json:"name"`
	InvitedDate string `yaml:"invited_date,omitempty" json:"invited_date,omitempty"`
	Status      string `yaml:"status,omitempty" json:"status,omitempty"`
	AccessLevel string `yaml:"access_level,omitempty" json:"access_level,omitempty"`
	Notes       string `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// FileSource reads the invitation list from a YAML or JSON file:
//
//	invited_users:
//	  alice@example.com:
//	    name: Alice
//	    invited_date: "2025-01-15"
//	    status: active
//	    access_level: admin
type FileSource struct {
	Path string

	mu sync.Mutex // serializes Put/SetStatus
}

// NewFileSource returns a FileSource for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// Name implements Source.
func (s *FileSource) Name() string { return "file:" + s.Path }

// Load implements Source.
func (s *FileSource) Load(_ context.Context) ([]Invitee, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(doc.InvitedUsers))
	for k := range doc.InvitedUsers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Invitee, 0, len(keys))
	for _, k := range keys {
		e := doc.InvitedUsers[k]
		invitedAt, err := parseDate(e.InvitedDate)
		if err != nil {
			return nil, config.Errorf("invitations.path", "%s: %w", k, err)
		}
		out = append(out, Invitee{
			Key:         k,
			Name:        e.Name,
			Status:      Status(e.Status),
			AccessLevel: AccessLevel(e.AccessLevel),
			InvitedAt:   invitedAt,
			Notes:       e.Notes,
		})
	}
	return out, nil
}

// Put adds or replaces an invitee and persists the file. Any existing entry
// whose key normalizes to the same identity is replaced.
func (s *FileSource) Put(inv Invitee) error {
	key := identity.Normalize(inv.Key)
	if key == "" {
		return fmt.Errorf("invitee key is required")
	}
	status, err := parseStatus(string(inv.Status))
	if err != nil {
		return err
	}
	level, err := parseAccessLevel(string(inv.AccessLevel))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if doc.InvitedUsers == nil {
		doc.InvitedUsers = map[string]fileEntry{}
	}
	for k := range doc.InvitedUsers {
		if identity.Normalize(k) == key {
			delete(doc.InvitedUsers, k)
		}
	}
	doc.InvitedUsers[key] = fileEntry{
		Name:        inv.Name,
		InvitedDate: formatDate(inv.InvitedAt),
		Status:      string(status),
		AccessLevel: string(level),
		Notes:       inv.Notes,
	}
	return s.write(doc)
}

// SetStatus changes the status of an existing invitee and persists the file.
// Returns ErrNotInvited when the identity is absent.
func (s *FileSource) SetStatus(raw string, status Status) error {
	if _, err := parseStatus(string(status)); err != nil || status == "" {
		return fmt.Errorf("invalid status %q", status)
	}
	key := identity.Normalize(raw)

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	for k, e := range doc.InvitedUsers {
		if identity.Normalize(k) == key {
			e.Status = string(status)
			doc.InvitedUsers[k] = e
			return s.write(doc)
		}
	}
	return ErrNotInvited
}

// read parses the file. A missing file is reported with fs.ErrNotExist in
// the chain and an empty document.
func (s *FileSource) read() (fileDocument, error) {
	var doc fileDocument
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return doc, &config.ConfigurationError{Field: "invitations.path", Err: err}
	}
	// JSON is valid YAML, so one decoder serves both layouts.
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, &config.ConfigurationError{Field: "invitations.path", Err: fmt.Errorf("parsing %s: %w", s.Path, err)}
	}
	return doc, nil
}

func (s *FileSource) write(doc fileDocument) error {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(s.Path), ".json") {
		data, err = json.MarshalIndent(doc, "", "  ")
		data = append(data, '\n')
	} else {
		data, err = yaml.Marshal(doc)
	}
	if err != nil {
		return fmt.Errorf("encoding invitation file: %w", err)
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating invitation directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".invited-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path); err != nil {
		return fmt.Errorf("replacing invitation file: %w", err)
	}
	return nil
}

// SecretsSource reads a TOML secrets file with an [invited_users] table
// mapping identity to display name:
//
//	[invited_users]
//	"alice@example.com" = "Alice"
//
// Every entry is an active user invited on SecretsDefaultDate.
type SecretsSource struct {
	Path string
}

// Name implements Source.
func (s SecretsSource) Name() string { return "secrets:" + s.Path }

// Load implements Source.
func (s SecretsSource) Load(_ context.Context) ([]Invitee, error) {
	var doc struct {
		InvitedUsers map[string]string `toml:"invited_users"`
	}
	if _, err := toml.DecodeFile(s.Path, &doc); err != nil {
		return nil, &config.ConfigurationError{Field: "invitations.secrets_path", Err: err}
	}

	keys := make([]string, 0, len(doc.InvitedUsers))
	for k := range doc.InvitedUsers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Invitee, 0, len(keys))
	for _, k := range keys {
		out = append(out, Invitee{
			Key:         k,
			Name:        doc.InvitedUsers[k],
			Status:      StatusActive,
			AccessLevel: AccessUser,
			InvitedAt:   SecretsDefaultDate,
		})
	}
	return out, nil
}

// Static is an in-process invitation list.
type Static []Invitee

// Name implements Source.
func (Static) Name() string { return "static" }

// Load implements Source.
func (s Static) Load(context.Context) ([]Invitee, error) {
	out := make([]Invitee, len(s))
	copy(out, s)
	return out, nil
}

// MultiSource merges several sources. When two sources name the same
// identity, the later source wins.
type MultiSource []Source

// Name implements Source.
func (ms MultiSource) Name() string {
	names := make([]string, len(ms))
	for i, s := range ms {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

// Load implements Source. Duplicates within one source are left for the
// registry to reject.
func (ms MultiSource) Load(ctx context.Context) ([]Invitee, error) {
	var merged []Invitee
	index := map[string]int{}

	for _, s := range ms {
		invitees, err := s.Load(ctx)
		if err != nil {
			return nil, err
		}
		seenHere := map[string]bool{}
		for _, inv := range invitees {
			key := identity.Normalize(inv.Key)
			if i, ok := index[key]; ok && !seenHere[key] {
				merged[i] = inv
			} else {
				index[key] = len(merged)
				merged = append(merged, inv)
			}
			seenHere[key] = true
		}
	}
	return merged, nil
}

// SourceFromConfig builds the source described by the invitations section.
func SourceFromConfig(cfg config.InvitationsConfig) Source {
	var sources MultiSource
	if cfg.SecretsPath != "" {
		sources = append(sources, SecretsSource{Path: cfg.SecretsPath})
	}
	if cfg.Path != "" {
		sources = append(sources, NewFileSource(cfg.Path))
	}
	if len(sources) == 1 {
		return sources[0]
	}
	return sources
}
