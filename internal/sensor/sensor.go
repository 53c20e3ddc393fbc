package sensor

import "time"

// Sample 一次位置采样
type Sample struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  *float64  `json:"accuracy,omitempty"` // 精度半径（米），可选
	Timestamp time.Time `json:"timestamp"`
}

// WatchOptions 连续定位的参数
type WatchOptions struct {
	HighAccuracy bool          // 高精度偏好
	MaximumAge   time.Duration // 样本最大陈旧时间，超过则丢弃
	Timeout      time.Duration // 单个样本超时，超时通过 onError 上报
}

// SampleFunc 样本回调，按到达顺序逐条调用
type SampleFunc func(Sample)

// ErrorFunc 错误回调
// 传感器错误只上报不终止定位，watch 持续尝试交付后续样本
type ErrorFunc func(error)

// Watch 一次连续定位的句柄
type Watch interface {
	// Close 取消定位（幂等）
	Close() error
}

// Source 位置传感器
type Source interface {
	// Watch 注册连续定位，每个位置样本通过 onSample 交付
	Watch(opts WatchOptions, onSample SampleFunc, onError ErrorFunc) (Watch, error)
}
