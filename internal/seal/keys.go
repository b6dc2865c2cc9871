package seal

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// AESKeySize is the key length GenerateKeys produces (AES-128).
const AESKeySize = 16

// Key file naming inside a key directory.
const (
	aesSuffix  = ".aes"
	pubSuffix  = "_pub.pem"
	privSuffix = "_priv.pem"
)

// KeyPaths names the files GenerateKeys writes for one sensor.
type KeyPaths struct {
	AES     string `json:"aes"`
	Public  string `json:"public"`
	Private string `json:"private"`
}

// PathsFor returns the key file paths of sensorID inside dir.
func PathsFor(dir, sensorID string) KeyPaths {
	return KeyPaths{
		AES:     filepath.Join(dir, sensorID+aesSuffix),
		Public:  filepath.Join(dir, sensorID+pubSuffix),
		Private: filepath.Join(dir, sensorID+privSuffix),
	}
}

// GenerateKeys creates a P-256 key pair and an AES-128 key for sensorID and
// writes them into dir. Existing files are not overwritten.
func GenerateKeys(dir, sensorID string) (KeyPaths, error) {
	if sensorID == "" || strings.ContainsAny(sensorID, `/\`) {
		return KeyPaths{}, fmt.Errorf("invalid sensor id %q", sensorID)
	}
	paths := PathsFor(dir, sensorID)
	for _, p := range []string{paths.AES, paths.Public, paths.Private} {
		if _, err := os.Stat(p); err == nil {
			return KeyPaths{}, fmt.Errorf("key file already exists: %s", p)
		}
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return KeyPaths{}, fmt.Errorf("create key dir: %w", err)
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return KeyPaths{}, fmt.Errorf("generate ecdsa key: %w", err)
	}
	aesKey := make([]byte, AESKeySize)
	if _, err := rand.Read(aesKey); err != nil {
		return KeyPaths{}, fmt.Errorf("generate aes key: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return KeyPaths{}, fmt.Errorf("marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return KeyPaths{}, fmt.Errorf("marshal public key: %w", err)
	}

	if err := os.WriteFile(paths.Private, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}), 0o600); err != nil {
		return KeyPaths{}, fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(paths.Public, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0o644); err != nil {
		return KeyPaths{}, fmt.Errorf("write public key: %w", err)
	}
	if err := os.WriteFile(paths.AES, []byte(hex.EncodeToString(aesKey)+"\n"), 0o600); err != nil {
		return KeyPaths{}, fmt.Errorf("write aes key: %w", err)
	}

	return paths, nil
}

// LoadKeyring reads every "<id>.aes" file in dir together with its
// "<id>_pub.pem". A missing public key is an error.
func LoadKeyring(dir string) (*Keyring, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read key dir: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), aesSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), aesSuffix))
	}
	sort.Strings(ids)

	ring := NewKeyring()
	for _, id := range ids {
		paths := PathsFor(dir, id)
		aesKey, err := readAESKey(paths.AES)
		if err != nil {
			return nil, fmt.Errorf("sensor %s: %w", id, err)
		}
		pub, err := readPublicKey(paths.Public)
		if err != nil {
			return nil, fmt.Errorf("sensor %s: %w", id, err)
		}
		if err := ring.Add(id, SensorKeys{AES: aesKey, Public: pub}); err != nil {
			return nil, err
		}
	}
	return ring, nil
}

// LoadSecrets reads the sensor-side keys of sensorID from dir.
func LoadSecrets(dir, sensorID string) (SensorSecrets, error) {
	paths := PathsFor(dir, sensorID)
	aesKey, err := readAESKey(paths.AES)
	if err != nil {
		return SensorSecrets{}, err
	}
	priv, err := readPrivateKey(paths.Private)
	if err != nil {
		return SensorSecrets{}, err
	}
	return SensorSecrets{AES: aesKey, Private: priv}, nil
}

func readAESKey(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read aes key: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode aes key %s: %w", path, err)
	}
	if err := checkAESKey(key); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return key, nil
}

func readPublicKey(path string) (*ecdsa.PublicKey, error) {
	block, err := readPEM(path, "PUBLIC KEY")
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key %s: %w", path, err)
	}
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%s: not a P-256 ECDSA public key", path)
	}
	return pub, nil
}

func readPrivateKey(path string) (*ecdsa.PrivateKey, error) {
	block, err := readPEM(path, "PRIVATE KEY")
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", path, err)
	}
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok || priv.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%s: not a P-256 ECDSA private key", path)
	}
	return priv, nil
}

func readPEM(path, wantType string) (*pem.Block, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("%s: no PEM block found", path)
	}
	if block.Type != wantType {
		return nil, fmt.Errorf("%s: PEM type %q, want %q", path, block.Type, wantType)
	}
	return block, nil
}
