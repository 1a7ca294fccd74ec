package exchange

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/jxskiss/base62"
	"github.com/shopspring/decimal"
)

// StepPrecision 返回步长对应的小数位数: round(|log10(step)|)
func StepPrecision(step float64) int32 {
	if step >= 1 {
		return 0
	}
	return int32(math.Round(math.Abs(math.Log10(step))))
}

// AdjustToStep 将数量按 LOT_SIZE 步长向下取整, 结果永远不大于输入。
// 使用十进制运算避免 floor(q*10^p) 的浮点误差, 因此对同一步长重复调用结果不变。
func AdjustToStep(qty float64, step string) (float64, error) {
	stepValue, err := strconv.ParseFloat(step, 64)
	if err != nil || stepValue <= 0 {
		return 0, fmt.Errorf("invalid step size %q", step)
	}
	if qty <= 0 {
		return 0, nil
	}

	q := decimal.NewFromFloat(qty)
	var adjusted decimal.Decimal
	if stepValue >= 1 {
		// 整数步长: 取不超过数量的最大步长倍数
		s := decimal.NewFromFloat(stepValue)
		adjusted = q.Div(s).Floor().Mul(s)
	} else {
		adjusted = q.RoundFloor(StepPrecision(stepValue))
	}
	f, _ := adjusted.Float64()
	return f, nil
}

// FormatQuantity 按步长精度格式化下单数量
func FormatQuantity(qty float64, step string) string {
	stepValue, err := strconv.ParseFloat(step, 64)
	if err != nil || stepValue <= 0 {
		return decimal.NewFromFloat(qty).String()
	}
	return decimal.NewFromFloat(qty).StringFixed(StepPrecision(stepValue))
}

// FormatQuote 格式化计价货币金额, 保留8位小数并向下取整
func FormatQuote(amount float64) string {
	return decimal.NewFromFloat(amount).RoundFloor(8).String()
}

// NewClientOrderID 生成交易所可接受的唯一客户端订单号 (base62 编码的纳秒时间戳)
func NewClientOrderID(prefix string) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(time.Now().UnixNano()))
	return prefix + base62.EncodeToString(buf[:])
}
