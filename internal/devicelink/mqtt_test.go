package devicelink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqttcommon "github.com/smalok/NeuroGuard/common/mqtt"
	"github.com/smalok/NeuroGuard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSubscriber struct {
	mu           sync.Mutex
	handlers     map[string]mqttcommon.MessageHandler
	unsubscribed []string
	subErr       error
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{handlers: make(map[string]mqttcommon.MessageHandler)}
}

func (s *fakeSubscriber) Subscribe(topic string, _ byte, handler mqttcommon.MessageHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subErr != nil {
		return s.subErr
	}
	s.handlers[topic] = handler
	return nil
}

func (s *fakeSubscriber) Unsubscribe(topics ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range topics {
		delete(s.handlers, t)
		s.unsubscribed = append(s.unsubscribed, t)
	}
	return nil
}

func (s *fakeSubscriber) deliver(topic string, payload []byte) error {
	s.mu.Lock()
	h := s.handlers[topic]
	s.mu.Unlock()
	if h == nil {
		return errors.New("no handler")
	}
	return h(topic, payload)
}

const rawTopic = "neuroguard/dev-1/raw"

func TestMQTTOpener_NilClient(t *testing.T) {
	_, err := NewMQTTOpener(nil, rawTopic, 0, nil).Open(context.Background())
	assert.ErrorIs(t, err, ErrTransportUnsupported)
}

func TestMQTTOpener_SubscribeError(t *testing.T) {
	sub := newFakeSubscriber()
	sub.subErr = errors.New("not authorized")

	_, err := NewMQTTOpener(sub, rawTopic, 1, zap.NewNop()).Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authorized")
}

func TestMQTTOpener_BridgesPayloadAndCloses(t *testing.T) {
	sub := newFakeSubscriber()
	port, err := NewMQTTOpener(sub, rawTopic, 1, zap.NewNop()).Open(context.Background())
	require.NoError(t, err)

	go func() { _ = sub.deliver(rawTopic, []byte(`{"ecg":1,"emg":2}`)) }()

	buf := make([]byte, 64)
	n, err := port.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "{\"ecg\":1,\"emg\":2}\n", string(buf[:n]))

	readDone := make(chan error, 1)
	go func() {
		_, err := port.Read(buf)
		readDone <- err
	}()

	require.NoError(t, port.Close())
	select {
	case err := <-readDone:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("close did not unblock read")
	}
	assert.Equal(t, []string{rawTopic}, sub.unsubscribed)

	require.NoError(t, port.Close())
	assert.Len(t, sub.unsubscribed, 1)
}

func TestLink_OverMQTT(t *testing.T) {
	sub := newFakeSubscriber()
	link := NewLink(NewMQTTOpener(sub, rawTopic, 1, zap.NewNop()), Options{}, zap.NewNop())

	got := make(chan models.Sample, 4)
	link.Subscribe(func(s models.Sample) error {
		got <- s
		return nil
	})

	require.NoError(t, link.Connect(context.Background()))
	go func() { _ = sub.deliver(rawTopic, []byte("{\"ecg\":700,\"emg\":9}\n")) }()

	select {
	case s := <-got:
		assert.Equal(t, 700.0, s.ECG)
		assert.Equal(t, 9.0, s.EMG)
	case <-time.After(time.Second):
		t.Fatal("sample not delivered")
	}

	require.NoError(t, link.Disconnect(context.Background()))
	assert.Equal(t, []string{rawTopic}, sub.unsubscribed)
}
