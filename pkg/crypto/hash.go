package crypto

import (
	"bytes"
	"crypto/md5" // #nosec G501 -- identifier hash, not a security primitive
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// StableJSON encodes v with object keys sorted at every level, so two values
// that differ only in key order produce identical bytes. HTML characters are
// left unescaped.
func StableJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("failed to normalize value: %w", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// MD5Hex returns the hex md5 digest of the stable JSON encoding of v.
func MD5Hex(v any) (string, error) {
	data, err := StableJSON(v)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(data) // #nosec G401
	return hex.EncodeToString(sum[:]), nil
}
