package chains

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"custody-wallet-core/internal/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

//go:embed chains.yaml
var defaultChainsYAML []byte

// Address formats understood by the validators
const (
	FormatEVM     = "evm"
	FormatBitcoin = "bitcoin"
	FormatTron    = "tron"
	FormatSolana  = "solana"
)

type chainEntry struct {
	Id             string            `yaml:"id"`
	Name           string            `yaml:"name"`
	NativeToken    string            `yaml:"native_token"`
	AddressFormat  string            `yaml:"address_format"`
	FeeModel       string            `yaml:"fee_model"`
	RbfEnabled     bool              `yaml:"rbf_enabled"`
	GasUnits       string            `yaml:"gas_units"`
	PriceExponent  int32             `yaml:"price_exponent"`
	MinBumpPercent int64             `yaml:"min_bump_percent"`
	FeeTiers       map[string]string `yaml:"fee_tiers"`
}

type chainsFile struct {
	Chains []chainEntry `yaml:"chains"`
}

// Chain describes one supported network
type Chain struct {
	Id             string
	Name           string
	NativeToken    string
	AddressFormat  string
	FeeModel       string
	RbfEnabled     bool
	GasUnits       decimal.Decimal
	PriceExponent  int32
	MinBumpPercent decimal.Decimal
	FeeTiers       map[models.FeeTier]decimal.Decimal
}

// Catalog is the immutable set of chains the wallet supports
type Catalog struct {
	chains map[string]Chain
	order  []string
}

// LoadCatalog parses the chain catalog from chainsFile, or the embedded
// default when chainsFile is empty.
func LoadCatalog(chainsFile string) (*Catalog, error) {
	data := defaultChainsYAML
	if chainsFile != "" {
		var chainsPath string
		if filepath.IsAbs(chainsFile) {
			chainsPath = chainsFile
		} else {
			wd, err := os.Getwd()
			if err != nil {
				return nil, fmt.Errorf("failed to get working directory: %w", err)
			}
			chainsPath = filepath.Join(wd, chainsFile)
		}

		raw, err := os.ReadFile(chainsPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read %s: %w", chainsFile, err)
		}
		data = raw
	}
	return ParseCatalog(data)
}

// ParseCatalog builds a catalog from YAML bytes
func ParseCatalog(data []byte) (*Catalog, error) {
	var file chainsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unable to parse chain catalog: %w", err)
	}
	if len(file.Chains) == 0 {
		return nil, fmt.Errorf("chain catalog is empty")
	}

	catalog := &Catalog{chains: make(map[string]Chain, len(file.Chains))}
	for i, entry := range file.Chains {
		chain, err := entry.toChain()
		if err != nil {
			return nil, fmt.Errorf("chain at index %d: %w", i, err)
		}
		if _, dup := catalog.chains[chain.Id]; dup {
			return nil, fmt.Errorf("chain at index %d: duplicate id %s", i, chain.Id)
		}
		catalog.chains[chain.Id] = chain
		catalog.order = append(catalog.order, chain.Id)
	}
	return catalog, nil
}

func (e chainEntry) toChain() (Chain, error) {
	if e.Id == "" {
		return Chain{}, fmt.Errorf("missing id")
	}
	if e.NativeToken == "" {
		return Chain{}, fmt.Errorf("missing native_token")
	}
	switch e.AddressFormat {
	case FormatEVM, FormatBitcoin, FormatTron, FormatSolana:
	default:
		return Chain{}, fmt.Errorf("unsupported address_format %q", e.AddressFormat)
	}

	gasUnits, err := decimal.NewFromString(e.GasUnits)
	if err != nil || !gasUnits.IsPositive() {
		return Chain{}, fmt.Errorf("invalid gas_units %q", e.GasUnits)
	}

	tiers := make(map[models.FeeTier]decimal.Decimal, len(e.FeeTiers))
	for name, price := range e.FeeTiers {
		p, err := decimal.NewFromString(price)
		if err != nil || !p.IsPositive() {
			return Chain{}, fmt.Errorf("invalid price %q for tier %s", price, name)
		}
		tiers[models.FeeTier(strings.ToLower(name))] = p
	}
	for _, tier := range []models.FeeTier{models.FeeTierSlow, models.FeeTierStandard, models.FeeTierFast, models.FeeTierInstant} {
		if _, ok := tiers[tier]; !ok {
			return Chain{}, fmt.Errorf("missing fee tier %s", tier)
		}
	}

	return Chain{
		Id:             strings.ToLower(e.Id),
		Name:           e.Name,
		NativeToken:    e.NativeToken,
		AddressFormat:  e.AddressFormat,
		FeeModel:       e.FeeModel,
		RbfEnabled:     e.RbfEnabled,
		GasUnits:       gasUnits,
		PriceExponent:  e.PriceExponent,
		MinBumpPercent: decimal.NewFromInt(e.MinBumpPercent),
		FeeTiers:       tiers,
	}, nil
}

// Get returns the chain with the given id
func (c *Catalog) Get(chainId string) (Chain, error) {
	chain, ok := c.chains[strings.ToLower(chainId)]
	if !ok {
		return Chain{}, fmt.Errorf("%w: unsupported chain %q", models.ErrValidation, chainId)
	}
	return chain, nil
}

// IDs returns chain ids in catalog order
func (c *Catalog) IDs() []string {
	return append([]string(nil), c.order...)
}

