package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/cometbft/cometbft/crypto/ed25519"
)

const (
	// GenesisSeq is the sequence number of the first block on any chain.
	GenesisSeq uint64 = 1
	// UnknownSeq marks a link that has no resolved counterparty sequence yet.
	// Proposal halves carry it until the counterparty signs its own half.
	UnknownSeq uint64 = 0
)

// EmptyKey is the sentinel for "no key" in link fields.
const EmptyKey = ""

// GenesisHash returns the previous-hash value expected on sequence number 1.
func GenesisHash() string {
	sum := sha256.Sum256(nil)
	return hex.EncodeToString(sum[:])
}

// Block is the atomic unit of an agent's chain. Once appended it is immutable.
// Hash and InsertTime are local bookkeeping and not part of the signed content.
type Block struct {
	Payload            []byte `json:"payload"`
	PublicKey          string `json:"public_key"`
	SequenceNumber     uint64 `json:"sequence_number"`
	LinkPublicKey      string `json:"link_public_key"`
	LinkSequenceNumber uint64 `json:"link_sequence_number"`
	PreviousHash       string `json:"previous_hash"`
	Signature          string `json:"signature"`
	Hash               string `json:"hash,omitempty"`
	InsertTime         int64  `json:"insert_time,omitempty"`
}

func uint64ToBytes(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

// SigningBytes returns the deterministic digest covered by the creator's signature.
func (b *Block) SigningBytes() []byte {
	h := sha256.New()
	h.Write(b.Payload)
	h.Write([]byte(b.PublicKey))
	h.Write(uint64ToBytes(b.SequenceNumber))
	h.Write([]byte(b.LinkPublicKey))
	h.Write(uint64ToBytes(b.LinkSequenceNumber))
	h.Write([]byte(b.PreviousHash))
	return h.Sum(nil)
}

// ComputeHash returns the content hash used as the block's identity in indices.
// The signature is included so two differently-signed blocks never collide.
func (b *Block) ComputeHash() string {
	h := sha256.New()
	h.Write(b.SigningBytes())
	h.Write([]byte(b.Signature))
	return hex.EncodeToString(h.Sum(nil))
}

// Sign signs the block with the given private key and fills in Signature.
// The key must match the block's PublicKey.
func (b *Block) Sign(priv ed25519.PrivKey) error {
	if PublicKeyHex(priv.PubKey().Bytes()) != b.PublicKey {
		return fmt.Errorf("signing key does not match block public key")
	}
	sig, err := priv.Sign(b.SigningBytes())
	if err != nil {
		return fmt.Errorf("failed to sign block: %w", err)
	}
	b.Signature = hex.EncodeToString(sig)
	return nil
}

// VerifySignature checks the signature against the block's own public key.
func (b *Block) VerifySignature() bool {
	pubBytes, err := hex.DecodeString(b.PublicKey)
	if err != nil || len(pubBytes) != ed25519.PubKeySize {
		return false
	}
	sig, err := hex.DecodeString(b.Signature)
	if err != nil {
		return false
	}
	return ed25519.PubKey(pubBytes).VerifySignature(b.SigningBytes(), sig)
}

// IsProposalHalf reports whether the block still carries the unresolved link
// sentinel, i.e. it was created as the initiating half of a pairwise agreement.
func (b *Block) IsProposalHalf() bool {
	return b.LinkSequenceNumber == UnknownSeq
}

func (b *Block) String() string {
	return fmt.Sprintf("Block{%s:%d -> %s:%d}",
		shortKey(b.PublicKey), b.SequenceNumber, shortKey(b.LinkPublicKey), b.LinkSequenceNumber)
}

func shortKey(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}
