package chains

import (
	"fmt"

	"github.com/skip2/go-qrcode"
)

const defaultQRSize = 256

// ReceiveQR renders a PNG QR code with a chain-prefixed payment URI for address
func (c *Catalog) ReceiveQR(chainId, address string, size int) ([]byte, error) {
	if err := c.ValidateAddress(chainId, address); err != nil {
		return nil, err
	}
	chain, _ := c.Get(chainId)
	if size <= 0 {
		size = defaultQRSize
	}

	png, err := qrcode.Encode(fmt.Sprintf("%s:%s", chain.Id, address), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("unable to encode receive qr: %w", err)
	}
	return png, nil
}
