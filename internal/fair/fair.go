// Package fair implements the commit-reveal random generator behind
// every draw. The server commits to a secret seed before play by
// publishing its SHA-256; each draw is a keyed hash of the public
// client seed and a strictly increasing nonce, so after the seed is
// revealed anyone can replay the full draw sequence and check it
// against both the logged values and the original commitment.
package fair

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Keyed is the one-way keyed hash primitive. Keeping it this narrow
// lets the algorithm be swapped without touching any adapter.
type Keyed interface {
	Sum(key, message []byte) []byte
}

// HMACSHA256 is the default Keyed implementation.
type HMACSHA256 struct{}

func (HMACSHA256) Sum(key, message []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(message)
	return h.Sum(nil)
}

// NewServerSeed returns 32 bytes of fresh entropy, hex encoded.
func NewServerSeed() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read server seed entropy: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Commit returns the publishable SHA-256 commitment of a server seed.
func Commit(serverSeed string) string {
	sum := sha256.Sum256([]byte(serverSeed))
	return hex.EncodeToString(sum[:])
}

// VerifyCommit checks a revealed seed against its published commitment.
func VerifyCommit(seedHash, serverSeed string) bool {
	return Commit(serverSeed) == seedHash
}

// ClientSeed derives the public half of the seed pair from room and
// creator identity. It is deterministic on purpose: neither side gets
// to pick it after seeing anything.
func ClientSeed(roomID, ownerID uuid.UUID) string {
	sum := sha256.Sum256([]byte(roomID.String() + ":" + ownerID.String()))
	return hex.EncodeToString(sum[:16])
}

// Source produces draws for one room. Nonce must start at the room's
// persisted counter; the caller persists it back after drawing.
type Source struct {
	ServerSeed string
	ClientSeed string
	Nonce      int64
	Hash       Keyed
}

// NewSource builds a Source with the default keyed hash.
func NewSource(serverSeed, clientSeed string, nonce int64) *Source {
	return &Source{ServerSeed: serverSeed, ClientSeed: clientSeed, Nonce: nonce, Hash: HMACSHA256{}}
}

// Draw maps the next digest into [0, domain) and advances the nonce.
func (s *Source) Draw(domain int) int {
	v := value(s.Hash, s.ServerSeed, s.ClientSeed, s.Nonce, domain)
	s.Nonce++
	return v
}

// Replay recomputes the draw at a historical nonce with the default
// keyed hash. Used by verification, both ours and anyone else's.
func Replay(serverSeed, clientSeed string, nonce int64, domain int) int {
	return value(HMACSHA256{}, serverSeed, clientSeed, nonce, domain)
}

func value(h Keyed, serverSeed, clientSeed string, nonce int64, domain int) int {
	if domain <= 0 {
		return 0
	}
	msg := fmt.Sprintf("%s:%d", clientSeed, nonce)
	digest := h.Sum([]byte(serverSeed), []byte(msg))
	// The first 8 bytes give 64 uniform bits; modulo bias over
	// domains this small (<= 6) is far below anything observable.
	n := binary.BigEndian.Uint64(digest[:8])
	return int(n % uint64(domain))
}
