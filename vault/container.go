package vault

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/omni-agent/omnicore/internal/pathutil"
)

const containerVersion = 1

// containerFile is the on-disk layout: a plaintext envelope carrying the
// encryption metadata and a single authenticated ciphertext blob holding
// all entries.
type containerFile struct {
	Version int    `json:"version"`
	KDF     kdfRef `json:"kdf"`

	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

type kdfRef struct {
	Algo       string `json:"algo"`
	Iterations int    `json:"iterations"`
	Salt       []byte `json:"salt"`
}

// container is the decrypted content. It exists in memory only for the
// duration of a single vault operation.
type container struct {
	Entries map[string]*entry `json:"entries"`
}

type entry struct {
	Current   *revision  `json:"current,omitempty"`
	Archive   []revision `json:"archive,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	RotatedAt time.Time  `json:"rotated_at"`
	Deleted   bool       `json:"deleted,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

type revision struct {
	Value     string    `json:"value"`
	Timestamp time.Time `json:"ts"`
}

func newContainer() *container {
	return &container{Entries: make(map[string]*entry)}
}

func marshalContainer(c *container) ([]byte, error) {
	return json.Marshal(c)
}

func unmarshalContainer(b []byte, c *container) error {
	if err := json.Unmarshal(b, c); err != nil {
		return fmt.Errorf("corrupt vault payload: %w", err)
	}
	if c.Entries == nil {
		c.Entries = make(map[string]*entry)
	}
	return nil
}

func readContainerFile(path string) (*containerFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cf containerFile
	if err := json.Unmarshal(b, &cf); err != nil {
		return nil, fmt.Errorf("corrupt vault container: %w", err)
	}
	if cf.Version != containerVersion {
		return nil, fmt.Errorf("unsupported vault container version %d", cf.Version)
	}
	return &cf, nil
}

// writeContainerFile persists atomically: write to a temp sibling, fsync,
// rename over the target.
func writeContainerFile(path string, cf *containerFile) error {
	if err := pathutil.EnsureParentDir(path); err != nil {
		return err
	}
	b, err := json.Marshal(cf)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
