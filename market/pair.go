package market

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPair 交易对格式错误（期望 BASE/QUOTE）。
var ErrInvalidPair = errors.New("invalid currency pair")

// CurrencyPair 交易对，例如 BTC/USD。
type CurrencyPair struct {
	Base  string
	Quote string
}

// NewCurrencyPair 构造交易对，币种统一为大写。
func NewCurrencyPair(base, quote string) CurrencyPair {
	return CurrencyPair{
		Base:  strings.ToUpper(strings.TrimSpace(base)),
		Quote: strings.ToUpper(strings.TrimSpace(quote)),
	}
}

// ParsePair 解析 "BTC/USD" 形式的字符串。
func ParsePair(s string) (CurrencyPair, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 {
		return CurrencyPair{}, fmt.Errorf("%w: %q", ErrInvalidPair, s)
	}
	p := NewCurrencyPair(parts[0], parts[1])
	if !p.Valid() {
		return CurrencyPair{}, fmt.Errorf("%w: %q", ErrInvalidPair, s)
	}
	return p, nil
}

// MustParsePair 用于测试和常量初始化。
func MustParsePair(s string) CurrencyPair {
	p, err := ParsePair(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p CurrencyPair) Valid() bool {
	return p.Base != "" && p.Quote != "" && p.Base != p.Quote
}

func (p CurrencyPair) String() string {
	return p.Base + "/" + p.Quote
}

// MarshalText / UnmarshalText 让交易对可以直接出现在 yaml/json 中。
func (p CurrencyPair) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *CurrencyPair) UnmarshalText(b []byte) error {
	parsed, err := ParsePair(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
