package ahci

import "github.com/emberkernel/ember/kernel"

// Identify issues ATA IDENTIFY DEVICE into a scratch 512-byte buffer and
// returns the swap-decoded model string from words 27..46.
func (c *Controller) Identify() (string, *kernel.Error) {
	scratch := make([]byte, 512)
	if err := c.rw(ataIdentify, 0, scratch, false); err != nil {
		return "", err
	}
	return decodeModel(scratch), nil
}

// decodeModel extracts the ASCII model string from IDENTIFY words 27..46;
// each word's two bytes are byte-swapped relative to host order. Trailing
// space and NUL padding is trimmed.
func decodeModel(words []byte) string {
	buf := make([]byte, 0, 40)
	for w := 27; w <= 46; w++ {
		hi := words[w*2]
		lo := words[w*2+1]
		buf = append(buf, lo, hi)
	}
	end := len(buf)
	for end > 0 && (buf[end-1] == ' ' || buf[end-1] == 0) {
		end--
	}
	return string(buf[:end])
}
