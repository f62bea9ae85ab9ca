// Package history records the last successful connect per endpoint so
// status listings can surface recently used targets first.
package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pmoss/stunnel-pool/internal/appconfig"
	"github.com/pmoss/stunnel-pool/internal/model"
)

type store struct {
	LastConnect map[string]int64 `json:"last_connect"`
}

func filePath() (string, error) {
	dir, err := appconfig.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.json"), nil
}

// Touch records a successful connect to an endpoint.
func Touch(ep model.Endpoint) error {
	st, err := load()
	if err != nil {
		return err
	}
	if st.LastConnect == nil {
		st.LastConnect = map[string]int64{}
	}
	st.LastConnect[ep.String()] = time.Now().Unix()
	return save(st)
}

// LastConnect returns last successful connect timestamps by endpoint.
func LastConnect() (map[string]int64, error) {
	st, err := load()
	if err != nil {
		return nil, err
	}
	return st.LastConnect, nil
}

// SortTargetsRecent returns a new slice sorted by recent connect activity
// (desc), then alias.
func SortTargetsRecent(targets []model.TargetEntry, lastConnect map[string]int64) []model.TargetEntry {
	out := append([]model.TargetEntry(nil), targets...)
	sort.Slice(out, func(i, j int) bool {
		ti := lastConnect[out[i].Endpoint().String()]
		tj := lastConnect[out[j].Endpoint().String()]
		if ti != tj {
			return ti > tj
		}
		return out[i].Alias < out[j].Alias
	})
	return out
}

func load() (store, error) {
	path, err := filePath()
	if err != nil {
		return store{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store{LastConnect: map[string]int64{}}, nil
		}
		return store{}, err
	}
	var st store
	if err := json.Unmarshal(b, &st); err != nil {
		return store{LastConnect: map[string]int64{}}, nil
	}
	if st.LastConnect == nil {
		st.LastConnect = map[string]int64{}
	}
	return st, nil
}

func save(st store) error {
	path, err := filePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
