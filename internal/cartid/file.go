package cartid

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// File persists the cart id of a command line shopper in a small JSON file.
type File struct {
	Path string

	mu sync.Mutex
}

type fileState struct {
	CartID string `json:"cartId"`
}

// NewFile returns a store backed by path.
func NewFile(path string) *File {
	return &File{Path: path}
}

// DefaultPath is the state file under the user's config directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "toko", "cart.json")
}

// CartID returns the stored id. A missing or unreadable file means no cart.
func (f *File) CartID() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", false
	}
	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		return "", false
	}
	id := strings.TrimSpace(st.CartID)
	return id, id != ""
}

// SetCartID stores id, replacing the file atomically. An empty id removes it.
func (f *File) SetCartID(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == "" {
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove cart state: %w", err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("create cart state dir: %w", err)
	}
	data, err := json.Marshal(fileState{CartID: id})
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), ".cart-*.json")
	if err != nil {
		return fmt.Errorf("write cart state: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write cart state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write cart state: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write cart state: %w", err)
	}
	return nil
}
