package sensor

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"lifeline-sync/pkg/mqtt"

	"go.uber.org/zap"
)

// MQTTSource 通过 MQTT 主题接入的位置传感器
// 设备端以 JSON 格式发布位置样本：{latitude, longitude, accuracy?, timestamp}
type MQTTSource struct {
	client *mqtt.Client
	topic  string
	qos    byte
	logger *zap.Logger
}

// NewMQTTSource 创建 MQTT 位置传感器
func NewMQTTSource(client *mqtt.Client, topic string, qos byte, logger *zap.Logger) *MQTTSource {
	return &MQTTSource{
		client: client,
		topic:  topic,
		qos:    qos,
		logger: logger,
	}
}

// Watch 订阅位置主题，注册连续定位
func (s *MQTTSource) Watch(opts WatchOptions, onSample SampleFunc, onError ErrorFunc) (Watch, error) {
	if onSample == nil {
		return nil, fmt.Errorf("onSample is required")
	}

	w := &mqttWatch{
		source:   s,
		opts:     opts,
		onSample: onSample,
		onError:  onError,
	}

	// 单样本超时：超时只上报错误，不终止订阅
	if opts.Timeout > 0 {
		w.timer = time.AfterFunc(opts.Timeout, w.fireTimeout)
	}

	err := s.client.Subscribe(s.topic, s.qos, func(topic string, payload []byte) error {
		w.handlePayload(payload)
		return nil
	})
	if err != nil {
		if w.timer != nil {
			w.timer.Stop()
		}
		return nil, fmt.Errorf("failed to start location watch: %w", err)
	}

	s.logger.Info("Location watch started",
		zap.String("topic", s.topic),
		zap.Bool("high_accuracy", opts.HighAccuracy),
	)

	return w, nil
}

// mqttWatch 一次 MQTT 连续定位
type mqttWatch struct {
	source   *MQTTSource
	opts     WatchOptions
	onSample SampleFunc
	onError  ErrorFunc

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

// handlePayload 解析并交付一个位置样本
func (w *mqttWatch) handlePayload(payload []byte) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	// 收到样本即重置超时计时
	if w.timer != nil {
		w.timer.Stop()
		w.timer.Reset(w.opts.Timeout)
	}
	w.mu.Unlock()

	var sample Sample
	if err := json.Unmarshal(payload, &sample); err != nil {
		w.reportError(fmt.Errorf("invalid location payload: %w", err))
		return
	}

	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	// 丢弃过旧的样本
	if w.opts.MaximumAge > 0 && time.Since(sample.Timestamp) > w.opts.MaximumAge {
		w.source.logger.Debug("Dropping stale location sample",
			zap.Time("sample_timestamp", sample.Timestamp),
		)
		return
	}

	w.onSample(sample)
}

// fireTimeout 上报超时错误并继续等待下一个样本
func (w *mqttWatch) fireTimeout() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	if w.timer != nil {
		w.timer.Reset(w.opts.Timeout)
	}
	w.mu.Unlock()

	w.reportError(fmt.Errorf("position timeout: no sample within %s", w.opts.Timeout))
}

// reportError 通过错误回调上报（回调未注册时只记日志）
func (w *mqttWatch) reportError(err error) {
	if w.onError != nil {
		w.onError(err)
		return
	}
	w.source.logger.Warn("Location watch error",
		zap.Error(err),
	)
}

// Close 取消定位（幂等）
func (w *mqttWatch) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	if err := w.source.client.Unsubscribe(w.source.topic); err != nil {
		return fmt.Errorf("failed to stop location watch: %w", err)
	}

	return nil
}
