package chains

import (
	"encoding/hex"
	"fmt"
	"strings"

	"custody-wallet-core/internal/models"

	"github.com/btcsuite/btcutil/base58"
	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

const (
	tronVersion         byte = 0x41
	bitcoinP2PKHVersion byte = 0x00
	bitcoinP2SHVersion  byte = 0x05
	bitcoinBech32HRP         = "bc"
	hash160Len               = 20
	solanaPublicKeyLen       = 32
)

// ValidateAddress checks that address is well formed for chainId
func (c *Catalog) ValidateAddress(chainId, address string) error {
	chain, err := c.Get(chainId)
	if err != nil {
		return err
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("%w: address is required", models.ErrValidation)
	}

	var valid bool
	switch chain.AddressFormat {
	case FormatEVM:
		valid = common.IsHexAddress(address) && strings.HasPrefix(address, "0x")
	case FormatTron:
		payload, version, err := base58.CheckDecode(address)
		valid = err == nil && version == tronVersion && len(payload) == hash160Len
	case FormatSolana:
		valid = len(base58.Decode(address)) == solanaPublicKeyLen
	case FormatBitcoin:
		valid = validBitcoinAddress(address)
	}
	if !valid {
		return fmt.Errorf("%w: invalid %s address %q", models.ErrValidation, chain.Name, address)
	}
	return nil
}

func validBitcoinAddress(address string) bool {
	if strings.HasPrefix(strings.ToLower(address), bitcoinBech32HRP+"1") {
		hrp, data, err := bech32.Decode(address)
		return err == nil && hrp == bitcoinBech32HRP && len(data) > 1
	}
	payload, version, err := base58.CheckDecode(address)
	return err == nil && len(payload) == hash160Len &&
		(version == bitcoinP2PKHVersion || version == bitcoinP2SHVersion)
}

// DeriveAddress produces a stable synthetic receive address for a wallet on
// chainId. Key material is held by the MPC provider; only the address
// encoding is reproduced here.
func (c *Catalog) DeriveAddress(chainId, walletId string) (string, error) {
	chain, err := c.Get(chainId)
	if err != nil {
		return "", err
	}
	digest := keccak([]byte(walletId), []byte{0}, []byte(chain.Id))
	key := digest[len(digest)-hash160Len:]

	switch chain.AddressFormat {
	case FormatEVM:
		return common.BytesToAddress(key).Hex(), nil
	case FormatTron:
		return base58.CheckEncode(key, tronVersion), nil
	case FormatSolana:
		return base58.Encode(digest), nil
	case FormatBitcoin:
		conv, err := bech32.ConvertBits(key, 8, 5, true)
		if err != nil {
			return "", fmt.Errorf("unable to encode bitcoin address: %w", err)
		}
		return bech32.Encode(bitcoinBech32HRP, append([]byte{0}, conv...))
	}
	return "", fmt.Errorf("unsupported address format %s", chain.AddressFormat)
}

// TxHash derives a synthetic transaction hash formatted the way chainId's
// explorers display it.
func (c *Catalog) TxHash(chainId string, parts ...string) string {
	chunks := make([][]byte, 0, len(parts)*2)
	for _, p := range parts {
		chunks = append(chunks, []byte(p), []byte{0})
	}
	digest := keccak(chunks...)

	chain, err := c.Get(chainId)
	if err != nil {
		return "0x" + hex.EncodeToString(digest)
	}
	switch chain.AddressFormat {
	case FormatEVM:
		return "0x" + hex.EncodeToString(digest)
	case FormatSolana:
		return base58.Encode(append(digest, keccak(digest)...))
	default:
		return hex.EncodeToString(digest)
	}
}

// SameAddress compares two addresses the way wallets do: case-insensitive.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func keccak(chunks ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, c := range chunks {
		h.Write(c)
	}
	return h.Sum(nil)
}
