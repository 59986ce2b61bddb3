// Package signal turns free-text social posts into typed trading signals.
//
// Extraction is a heuristic classifier: the confidence attached to each
// signal is advisory and consumers decide position sizing on their own.
package signal

import "time"

// Action 表示信号方向。
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// Post 是从社交平台读取的一条帖子。
type Post struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Author    string    `json:"author"`
	Upvotes   int       `json:"upvotes"`
	Downvotes int       `json:"downvotes"`
	Community string    `json:"community,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Source 记录信号来自哪条帖子。
type Source struct {
	PostID  string `json:"post_id"`
	Title   string `json:"title"`
	Author  string `json:"author"`
	Upvotes int    `json:"upvotes"`
}

// Signal 是一次扫描得到的交易信号。
type Signal struct {
	Action     Action  `json:"action"`
	Token      string  `json:"token"`
	Amount     string  `json:"amount,omitempty"` // 代币数量，不是计价金额
	TakeProfit string  `json:"take_profit,omitempty"`
	StopLoss   string  `json:"stop_loss,omitempty"`
	Confidence float64 `json:"confidence"`
	Source     Source  `json:"source"`
}

// Key 返回用于去重的 (action, token) 组合。
func (s Signal) Key() string {
	return string(s.Action) + ":" + s.Token
}

// IsValidAction 检查动作是否为支持的枚举值。
func IsValidAction(action Action) bool {
	return action == ActionBuy || action == ActionSell
}
