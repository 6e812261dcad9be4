package state

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/crypto/sha3"
)

// digestNode is a node of a 256-ary trie keyed by address bytes
type digestNode struct {
	hash     []byte
	children map[byte]*digestNode
	leaf     bool
}

func newDigestNode() *digestNode {
	return &digestNode{children: make(map[byte]*digestNode)}
}

func keccak(data []byte) []byte {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(data)
	return hasher.Sum(nil)
}

func (n *digestNode) insert(key, leafHash []byte) {
	current := n
	for _, b := range key {
		child, ok := current.children[b]
		if !ok {
			child = newDigestNode()
			current.children[b] = child
		}
		current = child
	}
	current.leaf = true
	current.hash = leafHash
}

// seal computes the hash of every inner node bottom-up. Missing children
// hash as 32 zero bytes.
func (n *digestNode) seal() []byte {
	if n.leaf {
		return n.hash
	}
	buf := make([]byte, 0, 256*32)
	zero := make([]byte, 32)
	for i := 0; i < 256; i++ {
		if child, ok := n.children[byte(i)]; ok {
			buf = append(buf, child.seal()...)
		} else {
			buf = append(buf, zero...)
		}
	}
	n.hash = keccak(buf)
	return n.hash
}

type slotEntry struct {
	Slot  common.Hash
	Value common.Hash
}

// digestEntry is the encoding of one account and its slots in the digest
type digestEntry struct {
	Balance  *big.Int
	Nonce    uint64
	CodeHash common.Hash
	Storage  []slotEntry
}

// Digest returns a hash over every account and storage slot held in the
// store. Two stores with the same content have the same digest.
func (s *AccountStore) Digest() (common.Hash, error) {
	accounts, err := s.GetAllAccounts()
	if err != nil {
		return common.Hash{}, err
	}

	addrs := make([]common.Address, 0, len(accounts))
	for addr := range accounts {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
	})

	root := newDigestNode()
	for _, addr := range addrs {
		info := accounts[addr]
		slots, err := s.GetAllStorage(addr)
		if err != nil {
			return common.Hash{}, err
		}
		balance := new(big.Int)
		if info.Balance != nil {
			balance = info.Balance.ToBig()
		}
		entry := digestEntry{
			Balance:  balance,
			Nonce:    info.Nonce,
			CodeHash: info.CodeHash,
			Storage:  make([]slotEntry, 0, len(slots)),
		}
		for slot, val := range slots {
			if val != (common.Hash{}) {
				entry.Storage = append(entry.Storage, slotEntry{Slot: slot, Value: val})
			}
		}
		sort.Slice(entry.Storage, func(i, j int) bool {
			return bytes.Compare(entry.Storage[i].Slot[:], entry.Storage[j].Slot[:]) < 0
		})

		enc, err := rlp.EncodeToBytes(&entry)
		if err != nil {
			return common.Hash{}, fmt.Errorf("failed to encode account %s: %w", addr.Hex(), err)
		}
		root.insert(addr.Bytes(), keccak(enc))
	}
	return common.BytesToHash(root.seal()), nil
}
