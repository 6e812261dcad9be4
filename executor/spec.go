package executor

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/params"
)

// SpecID selects the set of EVM rules an executor runs with.
type SpecID uint8

const (
	Frontier SpecID = iota
	Homestead
	TangerineWhistle
	SpuriousDragon
	Byzantium
	Constantinople
	Petersburg
	Istanbul
	Berlin
	London
	Merge
	Shanghai
	Cancun
	Prague
)

// DefaultSpec is used when no evm version is configured.
const DefaultSpec = Cancun

var specNames = [...]string{
	Frontier:         "frontier",
	Homestead:        "homestead",
	TangerineWhistle: "tangerineWhistle",
	SpuriousDragon:   "spuriousDragon",
	Byzantium:        "byzantium",
	Constantinople:   "constantinople",
	Petersburg:       "petersburg",
	Istanbul:         "istanbul",
	Berlin:           "berlin",
	London:           "london",
	Merge:            "paris",
	Shanghai:         "shanghai",
	Cancun:           "cancun",
	Prague:           "prague",
}

func (s SpecID) String() string {
	if int(s) < len(specNames) {
		return specNames[s]
	}
	return fmt.Sprintf("SpecID(%d)", uint8(s))
}

// SpecFromEVMVersion maps a solc evmVersion name onto a spec id. "merge" is
// accepted as an alias of paris.
func SpecFromEVMVersion(version string) (SpecID, error) {
	v := strings.ToLower(strings.TrimSpace(version))
	if v == "" {
		return DefaultSpec, nil
	}
	if v == "merge" {
		return Merge, nil
	}
	for id, name := range specNames {
		if strings.ToLower(name) == v {
			return SpecID(id), nil
		}
	}
	return 0, fmt.Errorf("unsupported evm version: %s", version)
}

// IsMerge reports whether blocks under s carry prevrandao instead of difficulty.
func (s SpecID) IsMerge() bool {
	return s >= Merge
}

// ChainConfig returns a chain config that activates every fork up to and
// including s from genesis.
func ChainConfig(s SpecID, chainID uint64) *params.ChainConfig {
	zero := big.NewInt(0)
	ts := uint64(0)
	c := &params.ChainConfig{ChainID: new(big.Int).SetUint64(chainID)}

	if s >= Homestead {
		c.HomesteadBlock = zero
	}
	if s >= TangerineWhistle {
		c.EIP150Block = zero
	}
	if s >= SpuriousDragon {
		c.EIP155Block = zero
		c.EIP158Block = zero
	}
	if s >= Byzantium {
		c.ByzantiumBlock = zero
	}
	if s >= Constantinople {
		c.ConstantinopleBlock = zero
	}
	if s >= Petersburg {
		c.PetersburgBlock = zero
	}
	if s >= Istanbul {
		c.IstanbulBlock = zero
		c.MuirGlacierBlock = zero
	}
	if s >= Berlin {
		c.BerlinBlock = zero
	}
	if s >= London {
		c.LondonBlock = zero
		c.ArrowGlacierBlock = zero
		c.GrayGlacierBlock = zero
	}
	if s >= Merge {
		c.MergeNetsplitBlock = zero
		c.TerminalTotalDifficulty = zero
	}
	if s >= Shanghai {
		c.ShanghaiTime = &ts
	}
	if s >= Cancun {
		c.CancunTime = &ts
		c.BlobScheduleConfig = &params.BlobScheduleConfig{Cancun: params.DefaultCancunBlobConfig}
	}
	if s >= Prague {
		c.PragueTime = &ts
		c.BlobScheduleConfig.Prague = params.DefaultPragueBlobConfig
	}
	return c
}
