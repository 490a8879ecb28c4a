package canon

import (
	"crypto/sha256"
	"encoding/hex"
)

// GenesisHead seeds every shard's hash chain before atom 1.
const GenesisHead = "h:genesis"

// SHA256Hex returns the lowercase hex SHA-256 of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// BodyHash hashes a message body: "b:" + sha256(canon(body)).
func BodyHash(body any) (string, error) {
	c, err := Canonicalize(body)
	if err != nil {
		return "", err
	}
	return "b:" + SHA256Hex(c), nil
}

// ContentHash hashes a document body's raw UTF-8 bytes, no canonicalization.
func ContentHash(content string) string {
	return "b:" + SHA256Hex([]byte(content))
}

// ComputeCID returns the content identifier of an atom: "c:" + sha256 of the
// canonical form of the atom with its own cid field removed.
func ComputeCID(atom any) (string, error) {
	plain, err := toPlain(atom)
	if err != nil {
		return "", err
	}
	if obj, ok := plain.(map[string]any); ok {
		delete(obj, "cid")
	}
	c, err := Canonicalize(plain)
	if err != nil {
		return "", err
	}
	return "c:" + SHA256Hex(c), nil
}

// HeadHash extends the chain: "h:" + sha256(prev + ":" + cid).
func HeadHash(prev, cid string) string {
	return "h:" + SHA256Hex([]byte(prev+":"+cid))
}

// VerifyLink checks one chain link.
func VerifyLink(prev, cid, head string) bool {
	return HeadHash(prev, cid) == head
}
