// Package crypto encrypts personal data columns at rest with fernet.
package crypto

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fernet/fernet-go"
	"gorm.io/gorm"

	"github.com/gluk-w/cargocult/internal/config"
	"github.com/gluk-w/cargocult/internal/database"
)

// keyMu serializes the lookup and first-use generation of the stored key.
var keyMu sync.Mutex

// getKey prefers CARGOCULT_FERNET_KEY and otherwise keeps a generated key in
// the settings table. A key is generated only when none is stored yet.
func getKey() (*fernet.Key, error) {
	if config.Cfg.FernetKey != "" {
		key, err := fernet.DecodeKey(config.Cfg.FernetKey)
		if err != nil {
			return nil, fmt.Errorf("decode configured fernet key: %w", err)
		}
		return key, nil
	}

	keyMu.Lock()
	defer keyMu.Unlock()

	keyStr, err := database.GetSetting("fernet_key")
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("load fernet key: %w", err)
		}
		var k fernet.Key
		if err := k.Generate(); err != nil {
			return nil, fmt.Errorf("generate fernet key: %w", err)
		}
		if err := database.SetSetting("fernet_key", k.Encode()); err != nil {
			return nil, fmt.Errorf("save fernet key: %w", err)
		}
		return &k, nil
	}

	key, err := fernet.DecodeKey(keyStr)
	if err != nil {
		return nil, fmt.Errorf("decode fernet key: %w", err)
	}
	return key, nil
}

func Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	key, err := getKey()
	if err != nil {
		return "", err
	}
	tok, err := fernet.EncryptAndSign([]byte(plaintext), key)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return string(tok), nil
}

func Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	key, err := getKey()
	if err != nil {
		return "", err
	}
	msg := fernet.VerifyAndDecrypt([]byte(ciphertext), 0*time.Second, []*fernet.Key{key})
	if msg == nil {
		return "", fmt.Errorf("decrypt: invalid token")
	}
	return string(msg), nil
}

// Mask hides all but the last four characters of value.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) > 4 {
		return "****" + value[len(value)-4:]
	}
	return "****"
}
