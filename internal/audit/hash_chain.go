package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
)

// HashChain links entries with SHA-256 hashes so that removing or editing
// an entry breaks verification of every later one
type HashChain struct {
	mu       sync.Mutex
	lastHash string
	sequence uint64
}

// NewHashChain creates a new hash chain manager
func NewHashChain() *HashChain {
	return &HashChain{}
}

// InitializeWithHash resumes a chain from the last written entry
func (hc *HashChain) InitializeWithHash(hash string, sequence uint64) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.lastHash = hash
	hc.sequence = sequence
}

// Append assigns the next sequence number and the hashes to entry
func (hc *HashChain) Append(entry *Entry) error {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	entry.Sequence = hc.sequence + 1
	entry.PrevHash = hc.lastHash
	hash, err := computeHash(entry)
	if err != nil {
		return err
	}
	entry.Hash = hash

	hc.sequence = entry.Sequence
	hc.lastHash = hash
	return nil
}

// GetLastHash returns the current last hash
func (hc *HashChain) GetLastHash() string {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.lastHash
}

// computeHash hashes every field of entry except Hash itself
func computeHash(entry *Entry) (string, error) {
	hashInput := struct {
		Sequence  uint64                 `json:"seq"`
		EventID   string                 `json:"event_id"`
		EventType string                 `json:"event_type"`
		Message   string                 `json:"message"`
		Actor     string                 `json:"actor"`
		Payload   map[string]interface{} `json:"payload,omitempty"`
		CreatedAt string                 `json:"created_at"`
		PrevHash  string                 `json:"prev_hash"`
	}{
		Sequence:  entry.Sequence,
		EventID:   entry.EventID,
		EventType: string(entry.EventType),
		Message:   entry.Message,
		Actor:     entry.Actor,
		Payload:   entry.Payload,
		CreatedAt: entry.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000Z"),
		PrevHash:  entry.PrevHash,
	}

	data, err := json.Marshal(hashInput)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry for hashing: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyChain verifies the integrity of a chain of entries, starting from
// an empty previous hash
func VerifyChain(entries []*Entry) error {
	prev := ""
	for i, entry := range entries {
		if entry.PrevHash != prev {
			return fmt.Errorf("entry %d has broken chain: expected prev_hash %q, got %q", i, prev, entry.PrevHash)
		}
		hash, err := computeHash(entry)
		if err != nil {
			return fmt.Errorf("failed to verify entry %d: %w", i, err)
		}
		if hash != entry.Hash {
			return fmt.Errorf("entry %d has invalid hash", i)
		}
		prev = entry.Hash
	}
	return nil
}
