package secret

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

const secretFile = "bridge.secret"

// Size is the length of the local secret in bytes.
const Size = 32

// LoadOrGenerate loads the local secret from dataDir, or generates and
// saves a new one if none exists. The secret seals credential material
// at rest and never leaves the machine.
func LoadOrGenerate(dataDir string) ([]byte, error) {
	path := filepath.Join(dataDir, secretFile)

	if data, err := os.ReadFile(path); err == nil {
		raw, err := hex.DecodeString(string(data))
		if err != nil || len(raw) != Size {
			return nil, fmt.Errorf("corrupt secret file %s", path)
		}
		return raw, nil
	}

	return generateAndSave(dataDir, path)
}

func generateAndSave(dataDir, path string) ([]byte, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	raw := make([]byte, Size)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	// Readable only by owner
	if err := os.WriteFile(path, []byte(hex.EncodeToString(raw)), 0o600); err != nil {
		return nil, fmt.Errorf("write secret: %w", err)
	}
	return raw, nil
}
