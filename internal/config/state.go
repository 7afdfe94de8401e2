package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"
)

// State is the working state carried between runs: the session cookie and
// the last purchase selection. The file may hold comments and trailing
// commas; they are dropped on the next save.
type State struct {
	Cookie    string  `json:"cookie"`
	ProjectID int64   `json:"project_id,omitempty"`
	ScreenID  int64   `json:"screen_id,omitempty"`
	SkuID     int64   `json:"sku_id,omitempty"`
	Count     int     `json:"count,omitempty"`
	Name      string  `json:"name,omitempty"`
	Phone     string  `json:"phone,omitempty"`
	DeviceID  string  `json:"device_id,omitempty"`
	AddressID int64   `json:"address_id,omitempty"`
	Address   string  `json:"address,omitempty"`
	BuyerIDs  []int64 `json:"buyer_ids,omitempty"`
}

// LoadState reads the state file. A missing file yields an empty State.
func LoadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var state State
	if err := json.Unmarshal(jsonc.ToJSON(data), &state); err != nil {
		return State{}, fmt.Errorf("%s: parsing state: %w", path, err)
	}
	return state, nil
}

// SaveState writes state atomically with owner-only permissions, since it
// holds the session cookie.
func SaveState(path string, state State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("creating temp state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing state: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("writing state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
