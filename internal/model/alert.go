package model

import (
	"fmt"
	"strings"
)

type Direction string

const (
	DirAbove Direction = "above" // 价格高于阈值时触发
	DirBelow Direction = "below" // 价格低于阈值时触发
)

func (d Direction) String() string {
	return string(d)
}

// ParseDirection 解析用户输入的方向，大小写不敏感
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case DirAbove:
		return DirAbove, nil
	case DirBelow:
		return DirBelow, nil
	}
	return "", fmt.Errorf("invalid alert direction %q (want above or below)", s)
}

// PriceAlert 是用户注册的价格提醒，触发一次后即被删除
type PriceAlert struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`   // 通知接收者 (聊天 ID 或 @频道)
	Symbol    string    `json:"symbol"`   // 规范化交易对
	Exchange  string    `json:"exchange"` // 只用该交易所的价格比较，避免混用 IDR 与 USDT 报价
	Threshold float64   `json:"threshold"`
	Direction Direction `json:"direction"`
}

// Triggered 判断给定价格是否越过阈值 (严格大于 / 严格小于)
func (a PriceAlert) Triggered(price float64) bool {
	switch a.Direction {
	case DirAbove:
		return price > a.Threshold
	case DirBelow:
		return price < a.Threshold
	}
	return false
}
