package quote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Number decodes an integer sent either as a JSON number, a decimal string
// or a 0x-prefixed hex string.
type Number big.Int

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := string(b)
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	if s == "" {
		return fmt.Errorf("empty number")
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok {
		return fmt.Errorf("invalid number %q", string(b))
	}
	*n = Number(*v)
	return nil
}

// Int returns a copy of n, or nil when n is nil.
func (n *Number) Int() *big.Int {
	if n == nil {
		return nil
	}
	v := big.Int(*n)
	return new(big.Int).Set(&v)
}
