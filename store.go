package gbackup

import (
	"context"
	"encoding/json"
	"errors"
)

const (
	KeyUserInfo     = "user_info"
	KeyAccessToken  = "access_token"
	KeyBackupFileID = "backup_file_id"
)

var ErrKeyNotFound = errors.New("key not found")

// Store persists small named values across process restarts. Reads of an
// unknown key return ErrKeyNotFound.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// readString returns "" when the key is absent.
func readString(ctx context.Context, store Store, key string) (string, error) {
	b, err := store.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// readJSON reports false when the key is absent.
func readJSON(ctx context.Context, store Store, key string, v interface{}) (bool, error) {
	b, err := store.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(ctx context.Context, store Store, key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return store.Set(ctx, key, b)
}

// LoadProfile returns the persisted profile, or nil if nobody signed in yet.
func LoadProfile(ctx context.Context, store Store) (*Profile, error) {
	profile := &Profile{}
	found, err := readJSON(ctx, store, KeyUserInfo, profile)
	if err != nil || !found {
		return nil, err
	}
	return profile, nil
}

// LoadBackupFileID returns the last known remote file id, "" if none.
func LoadBackupFileID(ctx context.Context, store Store) (string, error) {
	return readString(ctx, store, KeyBackupFileID)
}

// ClearSession removes the persisted profile and token. The backup file id is
// kept so the next sign in of the same account updates the same file.
func ClearSession(ctx context.Context, store Store) error {
	if err := store.Delete(ctx, KeyAccessToken); err != nil {
		return err
	}
	return store.Delete(ctx, KeyUserInfo)
}
