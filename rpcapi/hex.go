package rpcapi

import (
	"encoding/hex"
	"fmt"

	"github.com/opensmt/smtd/hasher"
)

func decodeHash(s string) (hasher.H256, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return hasher.H256{}, fmt.Errorf("invalid hex: %w", err)
	}
	h, ok := hasher.H256FromBytes(b)
	if !ok {
		return hasher.H256{}, fmt.Errorf("want %d bytes (%d hex chars), got %d", hasher.Size, hasher.Size*2, len(b))
	}
	return h, nil
}

func encodeHash(h hasher.H256) string {
	return hex.EncodeToString(h.Bytes())
}

func encodeProof(compiled []byte) string {
	return hex.EncodeToString(compiled)
}
