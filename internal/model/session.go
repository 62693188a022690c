package model

import "time"

// SessionState 是流式会话状态机的状态
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
	StateBackoff
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateBackoff:
		return "Backoff"
	}
	return "Unknown"
}

// MarshalText 让状态在 JSON 中以名字输出
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SessionStatus 是某个交易所流式会话对外可见的只读快照
type SessionStatus struct {
	Exchange     string        `json:"exchange"`
	State        SessionState  `json:"state"`
	CurrentDelay time.Duration `json:"currentDelayNs"` // 仅在 Backoff 状态下有意义
	Symbols      []string      `json:"symbols"`
	Failures     int           `json:"failures"` // 连续失败次数，连接成功后清零
	Since        time.Time     `json:"since"`    // 进入当前状态的时间
}
