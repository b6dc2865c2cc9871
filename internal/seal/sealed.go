package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
)

// Envelope is the wire form of a sealed payload. All fields are base64.
type Envelope struct {
	IV         []byte `json:"iv"`
	Ciphertext []byte `json:"ciphertext"`
	Signature  []byte `json:"signature"`
}

// SensorKeys are the gateway-side keys of one sensor.
type SensorKeys struct {
	AES    []byte
	Public *ecdsa.PublicKey
}

// SensorSecrets are the sensor-side keys used to seal payloads.
type SensorSecrets struct {
	AES     []byte
	Private *ecdsa.PrivateKey
}

// Keyring maps sensor identities to their keys. Safe for concurrent use.
type Keyring struct {
	mu   sync.RWMutex
	keys map[string]SensorKeys
}

// NewKeyring creates an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string]SensorKeys)}
}

// Add registers keys for sensorID, replacing any previous entry.
func (k *Keyring) Add(sensorID string, keys SensorKeys) error {
	if err := checkAESKey(keys.AES); err != nil {
		return fmt.Errorf("sensor %s: %w", sensorID, err)
	}
	if keys.Public == nil {
		return fmt.Errorf("sensor %s: public key is required", sensorID)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[sensorID] = keys
	return nil
}

// Lookup returns the keys of sensorID.
func (k *Keyring) Lookup(sensorID string) (SensorKeys, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	keys, ok := k.keys[sensorID]
	return keys, ok
}

// Len returns the number of registered sensors.
func (k *Keyring) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys)
}

// Sealed opens AES-GCM envelopes and verifies ECDSA signatures.
type Sealed struct {
	Keys *Keyring
}

// NewSealed creates an Unsealer backed by keys.
func NewSealed(keys *Keyring) *Sealed {
	return &Sealed{Keys: keys}
}

// Unseal implements Unsealer.
// Decryption happens first; the signature covers the decrypted plaintext.
func (s *Sealed) Unseal(sensorID string, raw []byte) ([]byte, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope: %v", ErrDecryption, err)
	}

	keys, ok := s.Keys.Lookup(sensorID)
	if !ok {
		return nil, fmt.Errorf("%w: no keys registered for %s", ErrDecryption, sensorID)
	}

	gcm, err := newGCM(keys.AES)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	if len(env.IV) != gcm.NonceSize() {
		return nil, fmt.Errorf("%w: iv must be %d bytes, got %d", ErrDecryption, gcm.NonceSize(), len(env.IV))
	}

	plaintext, err := gcm.Open(nil, env.IV, env.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	digest := sha256.Sum256(plaintext)
	if !ecdsa.VerifyASN1(keys.Public, digest[:], env.Signature) {
		return nil, ErrSignature
	}

	return plaintext, nil
}

// Seal encrypts and signs plaintext for transmission. It is the sensor-side
// counterpart of Sealed.Unseal and returns the envelope as JSON.
func Seal(secrets SensorSecrets, plaintext []byte) ([]byte, error) {
	if secrets.Private == nil {
		return nil, fmt.Errorf("seal: private key is required")
	}
	gcm, err := newGCM(secrets.AES)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("seal: generate iv: %w", err)
	}

	digest := sha256.Sum256(plaintext)
	sig, err := ecdsa.SignASN1(rand.Reader, secrets.Private, digest[:])
	if err != nil {
		return nil, fmt.Errorf("seal: sign: %w", err)
	}

	env := Envelope{
		IV:         iv,
		Ciphertext: gcm.Seal(nil, iv, plaintext, nil),
		Signature:  sig,
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("seal: marshal envelope: %w", err)
	}
	return out, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if err := checkAESKey(key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func checkAESKey(key []byte) error {
	switch len(key) {
	case 16, 24, 32:
		return nil
	default:
		return fmt.Errorf("aes key must be 16, 24 or 32 bytes, got %d", len(key))
	}
}
