package api

import (
	"bytes"
	"fmt"

	"market-aggregator/internal/model"
	"market-aggregator/internal/service"
)

// number 接受 JSON 中的字符串或数字形式的数值，交易所两种写法都会出现
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = 0
		return nil
	}
	s := string(bytes.Trim(b, `"`))
	if s == "" {
		*n = 0
		return nil
	}
	v, err := service.ParseNumber(s)
	if err != nil {
		return fmt.Errorf("number: %w", err)
	}
	*n = number(v)
	return nil
}

func (n number) Float() float64 {
	return float64(n)
}

// levels 把 [[price, size], ...] 转成价位
func levels(rows [][]number) ([]model.PriceLevel, error) {
	out := make([]model.PriceLevel, 0, len(rows))
	for i, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("level %d: expected [price, size], got %d fields", i, len(row))
		}
		out = append(out, model.PriceLevel{Price: row[0].Float(), Size: row[1].Float()})
	}
	return out, nil
}
