package devicelink

import "errors"

var (
	// ErrAlreadyActive 连接已建立、正在建立或正在断开
	ErrAlreadyActive = errors.New("devicelink: link already active")
	// ErrDeviceNotFound 没有可用的串口设备
	ErrDeviceNotFound = errors.New("devicelink: no device found")
	// ErrTransportUnsupported 当前平台/配置不支持该传输
	ErrTransportUnsupported = errors.New("devicelink: transport not supported")

	// ErrEmptyLine 空行（不计入丢弃）
	ErrEmptyLine = errors.New("devicelink: empty line")
	// ErrMalformedLine 不是包含数值 ecg/emg 的 JSON 对象
	ErrMalformedLine = errors.New("devicelink: malformed line")
)
