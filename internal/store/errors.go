package store

import "errors"

// 本地前置条件错误，在发起任何远端调用之前短路返回
var (
	// ErrNotAuthenticated 操作需要有效会话
	ErrNotAuthenticated = errors.New("user not authenticated")
	// ErrLocationUnavailable 操作需要位置，但尚未采集到
	ErrLocationUnavailable = errors.New("location not available")
	// ErrUnsupportedEnvironment 运行环境没有位置传感器
	ErrUnsupportedEnvironment = errors.New("location sensor not available")
)
