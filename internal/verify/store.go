package verify

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"wipeledger/internal/proof"
)

// ErrNoRecord is returned when the cache holds no record for a device.
var ErrNoRecord = errors.New("no cached record")

// Store is a directory of per-device cached records, one JSON file per
// device. Records are written at commit time and read back during
// offline verification.
type Store struct {
	dir string
}

// OpenStore opens (creating if needed) a cache directory.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory:\n%w", err)
	}

	return &Store{dir: dir}, nil
}

// Put writes the cached record for its device. The write goes through a
// temporary file and a rename, so a crash never leaves a torn record.
func (s *Store) Put(rec CachedRecord) error {
	if rec.DeviceID == "" {
		return fmt.Errorf("%w: cached record device id is empty", proof.ErrValidation)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cached record:\n%w", err)
	}

	path := s.path(rec.DeviceID)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cached record:\n%w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish cached record:\n%w", err)
	}

	return nil
}

// Get reads the cached record for a device. Returns ErrNoRecord if the
// device was never cached.
func (s *Store) Get(deviceID string) (CachedRecord, error) {
	data, err := os.ReadFile(s.path(deviceID))
	if err != nil {
		if os.IsNotExist(err) {
			return CachedRecord{}, fmt.Errorf("%w for device %s", ErrNoRecord, deviceID)
		}
		return CachedRecord{}, fmt.Errorf("read cached record:\n%w", err)
	}

	var rec CachedRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return CachedRecord{}, fmt.Errorf("decode cached record:\n%w", err)
	}

	return rec, nil
}

// Devices lists the device ids present in the cache.
func (s *Store) Devices() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list cache directory:\n%w", err)
	}

	var devices []string

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		device, err := url.PathUnescape(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}

		devices = append(devices, device)
	}

	return devices, nil
}

// VerifyBundle verifies a bundle against the cache. An uncached device
// yields StatusUnknown rather than an error.
func (s *Store) VerifyBundle(bundle proof.Bundle) (Result, error) {
	rec, err := s.Get(bundle.DeviceID)
	if err != nil {
		if errors.Is(err, ErrNoRecord) {
			return Verify(bundle, nil)
		}
		return Result{}, err
	}

	return Verify(bundle, &rec)
}

// path maps a device id to its cache file. Device ids are escaped so
// path separators in an id cannot reach the filesystem.
func (s *Store) path(deviceID string) string {
	return filepath.Join(s.dir, url.PathEscape(deviceID)+".json")
}
