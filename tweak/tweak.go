// Package tweak installs locally edited bytecode into a backend.
package tweak

import (
	"fmt"
	"os"
	"strings"

	"github.com/airchains-network/tweak-executor/backend"
	"github.com/airchains-network/tweak-executor/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/sha3"
)

// CodeHash returns the hash an account with the given code carries.
// Empty code maps to the empty code hash constant.
func CodeHash(code []byte) common.Hash {
	if len(code) == 0 {
		return types.EmptyCodeHash
	}
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(code)
	return common.BytesToHash(hasher.Sum(nil))
}

// tweaked replaces code and code hash of info, keeping balance and nonce.
func tweaked(info *types.AccountInfo, code []byte) *types.AccountInfo {
	if info == nil {
		info = types.DefaultAccountInfo()
	} else {
		info = info.Copy()
	}
	info.CodeHash = CodeHash(code)
	info.Code = types.NewRawBytecode(code).ToChecked()
	return info
}

// ApplyTweaks overwrites the code of every tweaked address, in order.
// It stops at the first backend failure; tweaks applied before it stay.
func ApplyTweaks(b backend.Backend, tweaks []types.CodeTweak, log logrus.FieldLogger) error {
	for _, tw := range tweaks {
		info, err := b.AccountInfo(tw.Address)
		if err != nil {
			return err
		}
		info = tweaked(info, tw.Code)
		if err := b.InsertAccountInfo(tw.Address, info); err != nil {
			return err
		}
		logTweak(log, tw, info)
	}
	return nil
}

func logTweak(log logrus.FieldLogger, tw types.CodeTweak, info *types.AccountInfo) {
	if log == nil {
		return
	}
	log.WithFields(logrus.Fields{
		"address":   tw.Address.Hex(),
		"code_hash": info.CodeHash.Hex(),
		"size":      len(tw.Code),
	}).Debug("Applied code tweak")
}

// ApplyTweaksAtomic reads every tweaked account first and writes only when
// all reads succeeded. A failing write can still leave a partial batch.
func ApplyTweaksAtomic(b backend.Backend, tweaks []types.CodeTweak, log logrus.FieldLogger) error {
	staged := make([]*types.AccountInfo, len(tweaks))
	for i, tw := range tweaks {
		info, err := b.AccountInfo(tw.Address)
		if err != nil {
			return err
		}
		staged[i] = info
	}
	// later tweaks of the same address win, as with ApplyTweaks
	for i, tw := range tweaks {
		info := tweaked(staged[i], tw.Code)
		if err := b.InsertAccountInfo(tw.Address, info); err != nil {
			return err
		}
		logTweak(log, tw, info)
	}
	return nil
}

// ParseTweak parses "<address>=<code>" where code is hex (0x optional) or
// "@path" to a file holding hex.
func ParseTweak(s string) (types.CodeTweak, error) {
	addrPart, codePart, ok := strings.Cut(s, "=")
	if !ok {
		return types.CodeTweak{}, fmt.Errorf("invalid tweak %q: expected <address>=<code>", s)
	}
	addrPart = strings.TrimSpace(addrPart)
	if !common.IsHexAddress(addrPart) {
		return types.CodeTweak{}, fmt.Errorf("invalid tweak address %q", addrPart)
	}

	codePart = strings.TrimSpace(codePart)
	if strings.HasPrefix(codePart, "@") {
		data, err := os.ReadFile(codePart[1:])
		if err != nil {
			return types.CodeTweak{}, fmt.Errorf("failed to read tweak code: %w", err)
		}
		codePart = strings.TrimSpace(string(data))
	}
	if !strings.HasPrefix(codePart, "0x") {
		codePart = "0x" + codePart
	}
	code, err := hexutil.Decode(codePart)
	if err != nil {
		return types.CodeTweak{}, fmt.Errorf("invalid tweak code for %s: %w", addrPart, err)
	}
	return types.CodeTweak{Address: common.HexToAddress(addrPart), Code: code}, nil
}
