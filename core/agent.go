package core

// AgentInfo identifies a participant in the network: its stable public key,
// its last-known NATS address and a role tag. Owned by the directory; the
// engine only ever holds copies.
type AgentInfo struct {
	PublicKey string `json:"public_key"`
	Address   string `json:"address"`
	Role      string `json:"role"`
}

// Equal reports whether two infos describe the same agent identity.
func (a AgentInfo) Equal(other AgentInfo) bool {
	return a.PublicKey == other.PublicKey
}
