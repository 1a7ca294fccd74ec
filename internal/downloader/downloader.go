package downloader

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"dca-ladder-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
)

// 币安单次请求最多返回1000条K线
const maxLimit = 1000

// KlineDownloader 用于从币安REST接口下载K线, 预热MFI窗口
type KlineDownloader struct {
	client *binance.Client
	pause  time.Duration
}

// NewKlineDownloader 创建一个新的下载器实例, baseURL 为空时使用币安默认地址
func NewKlineDownloader(baseURL string) *KlineDownloader {
	client := binance.NewClient("", "") // 公共接口不需要API Key
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return &KlineDownloader{client: client, pause: 200 * time.Millisecond}
}

// RecentKlines 返回最近 limit 根已收盘的K线, 按开盘时间升序。
// 最后一根若尚未收盘则被丢弃。
func (d *KlineDownloader) RecentKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Ticker, error) {
	if limit <= 0 || limit > maxLimit-1 {
		return nil, fmt.Errorf("limit must be within [1,%d], got %d", maxLimit-1, limit)
	}
	klines, err := d.client.NewKlinesService().
		Symbol(strings.ToUpper(symbol)).
		Interval(interval).
		Limit(limit + 1).
		Do(ctx)
	if err != nil {
		return nil, models.ExchangeError("download klines "+symbol, err)
	}

	now := time.Now().UnixMilli()
	tickers := make([]models.Ticker, 0, len(klines))
	for _, k := range klines {
		if k.CloseTime >= now {
			continue
		}
		t, err := toTicker(symbol, k)
		if err != nil {
			return nil, err
		}
		tickers = append(tickers, t)
	}
	if len(tickers) > limit {
		tickers = tickers[len(tickers)-limit:]
	}
	return tickers, nil
}

// DownloadKlines 分页下载 [startTime, endTime) 内的全部K线
func (d *KlineDownloader) DownloadKlines(ctx context.Context, symbol, interval string, startTime, endTime time.Time) ([]models.Ticker, error) {
	var all []models.Ticker
	for t := startTime; t.Before(endTime); {
		klines, err := d.client.NewKlinesService().
			Symbol(strings.ToUpper(symbol)).
			Interval(interval).
			StartTime(t.UnixMilli()).
			EndTime(endTime.UnixMilli() - 1).
			Limit(maxLimit).
			Do(ctx)
		if err != nil {
			return nil, models.ExchangeError("download klines "+symbol, err)
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			ticker, err := toTicker(symbol, k)
			if err != nil {
				return nil, err
			}
			all = append(all, ticker)
		}

		// 更新下一次请求的开始时间
		t = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		if len(klines) < maxLimit {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.pause): // 避免过于频繁的请求
		}
	}
	return all, nil
}

func toTicker(symbol string, k *binance.Kline) (models.Ticker, error) {
	fields := []string{k.Open, k.High, k.Low, k.Close, k.Volume}
	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return models.Ticker{}, models.ExchangeError("parse kline "+symbol, err)
		}
		values[i] = v
	}
	return models.Ticker{
		Pair:     strings.ToUpper(symbol),
		OpenTime: k.OpenTime,
		Open:     values[0],
		High:     values[1],
		Low:      values[2],
		Close:    values[3],
		Volume:   values[4],
	}, nil
}
