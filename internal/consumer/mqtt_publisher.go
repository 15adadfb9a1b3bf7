package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/smalok/NeuroGuard/internal/models"
	"go.uber.org/zap"
)

// Publisher MQTT 发布能力（common/mqtt.Client 实现了该接口）
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTPublisher 把体征转发到 MQTT 主题
type MQTTPublisher struct {
	client Publisher
	topic  string
	qos    byte
	logger *zap.Logger
}

// NewMQTTPublisher 创建 MQTT 体征发布器
func NewMQTTPublisher(client Publisher, topic string, qos byte, logger *zap.Logger) *MQTTPublisher {
	return &MQTTPublisher{
		client: client,
		topic:  topic,
		qos:    qos,
		logger: logger,
	}
}

// HandleVitals 发布体征（retained，订阅方上线即可拿到最新值）
func (p *MQTTPublisher) HandleVitals(_ context.Context, snap models.VitalsSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal vitals: %w", err)
	}
	if err := p.client.Publish(p.topic, p.qos, true, payload); err != nil {
		return fmt.Errorf("failed to publish vitals to MQTT: %w", err)
	}
	return nil
}
