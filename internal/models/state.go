package models

import "time"

// BotState 某个 (platform, pair) 在一个周期内的持仓跟踪状态。
// 新周期开始时插入新行, 周期内只原地更新极值与 MFI 底部。
type BotState struct {
	ID             int64     `json:"id"`
	Pair           string    `json:"pair"`
	Platform       string    `json:"platform"`
	Cycle          int64     `json:"cycle"`
	MarginPosition int       `json:"margin_position"` // 已执行的补仓档位数
	TopPrice       float64   `json:"top_price"`
	BottomPrice    float64   `json:"bottom_price"`
	BottomMFI      float64   `json:"bottom_mfi"`
	Timestamp      time.Time `json:"timestamp"`
}

// Exists 报告状态是否来自数据库 (零值表示尚无记录)
func (s BotState) Exists() bool {
	return s.ID != 0
}

// PositionStatus 由最新一笔成交推导出的持仓阶段
type PositionStatus string

const (
	StatusWait PositionStatus = "WAIT"
	StatusOpen PositionStatus = "OPEN"
)

// StatusOf 根据最新成交判断当前阶段: 无成交或最新为 CLOSE 时为 WAIT
func StatusOf(latest Trade) PositionStatus {
	if latest.Status == TradeOpen {
		return StatusOpen
	}
	return StatusWait
}
