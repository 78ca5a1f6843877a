// Package identity supplies the stable actor id and display name attached to
// a session. The identity is generated once, persisted to a small JSON file,
// and treated as opaque input by the engine.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/ideaboard/internal/types"
)

// Identity is the signed-in user as the engine sees it.
type Identity struct {
	ActorID   types.ActorID `json:"actor_id"`
	Name      string        `json:"name"`
	CreatedAt time.Time     `json:"created_at"`
}

// Load reads the identity stored at path, or signs the user in by minting a
// fresh actor id under the given display name and persisting it.
func Load(path, name string) (Identity, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var id Identity
		if err := json.Unmarshal(data, &id); err != nil {
			return Identity{}, fmt.Errorf("decode identity file: %w", err)
		}
		if id.ActorID == "" {
			return Identity{}, fmt.Errorf("identity file %s has no actor id", path)
		}
		return id, nil
	case errors.Is(err, os.ErrNotExist):
		return create(path, name)
	default:
		return Identity{}, fmt.Errorf("read identity file: %w", err)
	}
}

func create(path, name string) (Identity, error) {
	if strings.TrimSpace(name) == "" {
		return Identity{}, fmt.Errorf("display name must not be empty")
	}

	id := Identity{
		ActorID:   types.ActorID(uuid.NewString()),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return Identity{}, fmt.Errorf("encode identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Identity{}, fmt.Errorf("create identity dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return Identity{}, fmt.Errorf("write identity file: %w", err)
	}
	return id, nil
}

// Clear signs the user out by removing the identity file. A missing file is
// not an error.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove identity file: %w", err)
	}
	return nil
}
