package devicelink

import (
	"context"
	"fmt"
	"io"
	"sync"

	mqttcommon "github.com/smalok/NeuroGuard/common/mqtt"
	"go.uber.org/zap"
)

// Subscriber MQTT 订阅能力（common/mqtt.Client 实现了该接口）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTOpener 把网关转发的原始行协议主题桥接为字节流
// 每条消息是一行或多行 {"ecg":..,"emg":..}，缺少结尾换行时自动补上
type MQTTOpener struct {
	client Subscriber
	topic  string
	qos    byte
	logger *zap.Logger
}

// NewMQTTOpener 创建 MQTT Opener
func NewMQTTOpener(client Subscriber, topic string, qos byte, logger *zap.Logger) *MQTTOpener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTOpener{client: client, topic: topic, qos: qos, logger: logger}
}

// Open 订阅主题
func (o *MQTTOpener) Open(ctx context.Context) (Port, error) {
	if o.client == nil {
		return nil, ErrTransportUnsupported
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	p := &mqttPort{pr: pr, pw: pw, client: o.client, topic: o.topic}

	handler := func(_ string, payload []byte) error {
		data := make([]byte, len(payload), len(payload)+1)
		copy(data, payload)
		if len(data) == 0 || data[len(data)-1] != '\n' {
			data = append(data, '\n')
		}
		// 读端关闭后返回 io.ErrClosedPipe
		_, err := pw.Write(data)
		return err
	}

	if err := o.client.Subscribe(o.topic, o.qos, handler); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("subscribe %s: %w", o.topic, err)
	}

	o.logger.Info("MQTT device stream opened", zap.String("topic", o.topic))
	return p, nil
}

type mqttPort struct {
	pr     *io.PipeReader
	pw     *io.PipeWriter
	client Subscriber
	topic  string

	once sync.Once
	err  error
}

func (p *mqttPort) Read(b []byte) (int, error) {
	return p.pr.Read(b)
}

// Close 取消订阅并关闭管道，阻塞中的 Read 会立即返回
func (p *mqttPort) Close() error {
	p.once.Do(func() {
		p.err = p.client.Unsubscribe(p.topic)
		p.pw.Close()
		p.pr.Close()
	})
	return p.err
}
