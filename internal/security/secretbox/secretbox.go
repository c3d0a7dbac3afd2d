// Package secretbox sella secretos en reposo (el shared secret de la
// credencial en el store FS). Usa NaCl secretbox con clave maestra tomada
// de DOORMAN_MASTER_KEY (base64 de 32 bytes).
package secretbox

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	masterKeyEnvVar   = "DOORMAN_MASTER_KEY"
	requiredKeyLength = 32
	nonceSize         = 24
	sep               = "|" // nonce|box, ambos en base64
)

var (
	masterKey [requiredKeyLength]byte
	loaded    bool
	loadOnce  sync.Once
	loadErr   error
	mu        sync.RWMutex
)

// ensureLoaded carga la clave maestra una sola vez.
func ensureLoaded() error {
	loadOnce.Do(func() {
		kb64 := strings.TrimSpace(os.Getenv(masterKeyEnvVar))
		if kb64 == "" {
			loadErr = fmt.Errorf("%s no seteada; genere una con: openssl rand -base64 32", masterKeyEnvVar)
			return
		}
		k, err := base64.StdEncoding.DecodeString(kb64)
		if err != nil {
			loadErr = fmt.Errorf("decode %s: %w", masterKeyEnvVar, err)
			return
		}
		if len(k) != requiredKeyLength {
			loadErr = fmt.Errorf("%s debe decodificar a %d bytes, obtuvo %d", masterKeyEnvVar, requiredKeyLength, len(k))
			return
		}
		mu.Lock()
		copy(masterKey[:], k)
		loaded = true
		mu.Unlock()
	})
	return loadErr
}

// Ready expone si la clave está cargada (para healthchecks).
func Ready() bool {
	mu.RLock()
	defer mu.RUnlock()
	return loaded
}

// Seal cifra plain y devuelve base64(nonce)|base64(box).
func Seal(plain string) (string, error) {
	if err := ensureLoaded(); err != nil {
		return "", err
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("nonce random: %w", err)
	}

	mu.RLock()
	box := secretbox.Seal(nil, []byte(plain), &nonce, &masterKey)
	mu.RUnlock()

	return base64.StdEncoding.EncodeToString(nonce[:]) + sep + base64.StdEncoding.EncodeToString(box), nil
}

// Open descifra un valor producido por Seal.
func Open(sealed string) (string, error) {
	if err := ensureLoaded(); err != nil {
		return "", err
	}

	parts := strings.SplitN(sealed, sep, 2)
	if len(parts) != 2 {
		return "", errors.New("secretbox: formato inválido")
	}
	nb, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(nb) != nonceSize {
		return "", errors.New("secretbox: nonce inválido")
	}
	box, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", errors.New("secretbox: ciphertext inválido")
	}

	var nonce [nonceSize]byte
	copy(nonce[:], nb)

	mu.RLock()
	plain, ok := secretbox.Open(nil, box, &nonce, &masterKey)
	mu.RUnlock()
	if !ok {
		return "", errors.New("secretbox: autenticación falló (clave o datos incorrectos)")
	}
	return string(plain), nil
}

// UnsafeResetForTests resetea el estado global. Solo tests.
func UnsafeResetForTests() {
	mu.Lock()
	defer mu.Unlock()
	loadOnce = sync.Once{}
	loadErr = nil
	loaded = false
	masterKey = [requiredKeyLength]byte{}
}
