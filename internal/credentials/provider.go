package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/LibreTap/mqtt-protocol/internal/engine"
)

// hexKey matches the hex-encoded key format readers accept.
var hexKey = regexp.MustCompile(`^[0-9A-Fa-f]+$`)

// File is the on-disk layout of the credentials file.
type File struct {
	DefaultKey string               `yaml:"default_key"`
	Devices    map[string]DeviceKey `yaml:"devices"`
	Tags       map[string]TagEntry  `yaml:"tags"`
}

// DeviceKey is the key shared by every tag on one reader.
type DeviceKey struct {
	Key string `yaml:"key"`
}

// TagEntry is the key and user context for one tag.
type TagEntry struct {
	Key      string         `yaml:"key"`
	UserData map[string]any `yaml:"user_data"`
}

// FileProvider serves credentials from a YAML file. It satisfies
// engine.CredentialProvider.
//
// Thread Safety:
//   - Credentials may be called concurrently with Reload.
type FileProvider struct {
	path string

	mu   sync.RWMutex
	data File
}

// Load reads the credentials file at path.
func Load(path string) (*FileProvider, error) {
	p := &FileProvider{path: path}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// New builds a provider from an in-memory File, validating it the same way
// Load does.
func New(f File) (*FileProvider, error) {
	f = normalise(f)
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &FileProvider{data: f}, nil
}

// Reload re-reads the file. On error the previous credentials stay in use.
func (p *FileProvider) Reload() error {
	if p.path == "" {
		return nil
	}

	raw, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("reading credentials file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	f = normalise(f)
	if err := f.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	p.data = f
	p.mu.Unlock()
	return nil
}

// Credentials returns the key and user_data for tagUID presented to deviceID.
func (p *FileProvider) Credentials(ctx context.Context, deviceID, tagUID string) (engine.Credentials, error) {
	if err := ctx.Err(); err != nil {
		return engine.Credentials{}, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	tag, hasTag := p.data.Tags[normaliseUID(tagUID)]

	key := tag.Key
	if key == "" {
		key = p.data.Devices[deviceID].Key
	}
	if key == "" {
		key = p.data.DefaultKey
	}
	if key == "" {
		return engine.Credentials{}, fmt.Errorf("%w: %s on %s", ErrNoCredentials, tagUID, deviceID)
	}

	creds := engine.Credentials{Key: key}
	if hasTag && len(tag.UserData) > 0 {
		creds.UserData = make(map[string]any, len(tag.UserData))
		for k, v := range tag.UserData {
			creds.UserData[k] = v
		}
	}
	return creds, nil
}

// Len returns the number of enrolled tags.
func (p *FileProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.data.Tags)
}

// Validate checks every key in the file is hex-encoded.
func (f File) Validate() error {
	var errs []string

	if f.DefaultKey != "" && !hexKey.MatchString(f.DefaultKey) {
		errs = append(errs, "default_key must be hex")
	}
	for _, id := range sortedKeys(f.Devices) {
		if k := f.Devices[id].Key; k == "" || !hexKey.MatchString(k) {
			errs = append(errs, fmt.Sprintf("devices.%s.key must be non-empty hex", id))
		}
	}
	for _, uid := range sortedKeys(f.Tags) {
		if !hexKey.MatchString(uid) {
			errs = append(errs, fmt.Sprintf("tags.%s: tag_uid must be hex", uid))
		}
		if k := f.Tags[uid].Key; k != "" && !hexKey.MatchString(k) {
			errs = append(errs, fmt.Sprintf("tags.%s.key must be hex", uid))
		}
	}

	if len(errs) > 0 {
		return errors.Join(ErrInvalidFile, errors.New(strings.Join(errs, "; ")))
	}
	return nil
}

// normalise upper-cases tag UIDs so lookups ignore case.
func normalise(f File) File {
	if len(f.Tags) == 0 {
		return f
	}
	tags := make(map[string]TagEntry, len(f.Tags))
	for uid, entry := range f.Tags {
		tags[normaliseUID(uid)] = entry
	}
	f.Tags = tags
	return f
}

func normaliseUID(uid string) string {
	return strings.ToUpper(strings.TrimSpace(uid))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
