package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Namehash derives the stable domain key for a name.
//
// This is the ENS namehash fold: the key of "a.b" is
// keccak256(keccak256(zero ++ keccak256("b")) ++ keccak256("a")), so parent
// keys are stable prefixes of the computation and the empty name maps to the
// zero hash. Names are lowercased first; trailing dots are ignored.
func Namehash(name string) common.Hash {
	node := common.Hash{}
	name = strings.TrimSuffix(strings.ToLower(name), ".")
	if name == "" {
		return node
	}
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		label := crypto.Keccak256Hash([]byte(labels[i]))
		node = crypto.Keccak256Hash(node.Bytes(), label.Bytes())
	}
	return node
}
