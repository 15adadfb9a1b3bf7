package devicelink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// DefaultBaudRate 设备固件固定波特率
const DefaultBaudRate = 115200

// SerialOpener 通过 USB 串口打开设备
type SerialOpener struct {
	portName    string
	baudRate    int
	readTimeout time.Duration
	logger      *zap.Logger

	// 便于测试替换
	listPorts func() ([]string, error)
	openPort  func(name string, mode *serial.Mode) (serial.Port, error)
}

// NewSerialOpener 创建串口 Opener；portName 为空时使用枚举到的第一个端口
func NewSerialOpener(portName string, baudRate int, readTimeout time.Duration, logger *zap.Logger) *SerialOpener {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SerialOpener{
		portName:    portName,
		baudRate:    baudRate,
		readTimeout: readTimeout,
		logger:      logger,
		listPorts:   serial.GetPortsList,
		openPort:    serial.Open,
	}
}

// Open 打开串口（8N1）
func (o *SerialOpener) Open(ctx context.Context) (Port, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := o.portName
	if name == "" {
		ports, err := o.listPorts()
		if err != nil {
			return nil, mapSerialError(err)
		}
		if len(ports) == 0 {
			return nil, ErrDeviceNotFound
		}
		name = ports[0]
	}

	mode := &serial.Mode{
		BaudRate: o.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := o.openPort(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, mapSerialError(err))
	}

	if o.readTimeout > 0 {
		if err := port.SetReadTimeout(o.readTimeout); err != nil {
			o.logger.Warn("Failed to set serial read timeout", zap.String("port", name), zap.Error(err))
		}
	}

	o.logger.Info("Serial port opened",
		zap.String("port", name),
		zap.Int("baud_rate", o.baudRate),
	)
	return port, nil
}

func mapSerialError(err error) error {
	var portErr *serial.PortError
	if !errors.As(err, &portErr) {
		return err
	}
	switch portErr.Code() {
	case serial.PortNotFound:
		return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	case serial.FunctionNotImplemented:
		return fmt.Errorf("%w: %v", ErrTransportUnsupported, err)
	default:
		return err
	}
}
