package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/smalok/NeuroGuard/internal/classifier"
	"github.com/smalok/NeuroGuard/internal/config"
	"github.com/smalok/NeuroGuard/internal/consumer"
	"github.com/smalok/NeuroGuard/internal/devicelink"
	"github.com/smalok/NeuroGuard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// pipePort 测试用端口：写端模拟设备，关闭写端模拟拔出
type pipePort struct {
	*io.PipeReader
	w *io.PipeWriter
}

func newPipePort() *pipePort {
	r, w := io.Pipe()
	return &pipePort{PipeReader: r, w: w}
}

func (p *pipePort) send(t *testing.T, lines ...string) {
	t.Helper()
	for _, line := range lines {
		_, err := p.w.Write([]byte(line + "\n"))
		require.NoError(t, err)
	}
}

type queueOpener struct {
	mu    sync.Mutex
	ports []*pipePort
	opens int
}

func (o *queueOpener) Open(ctx context.Context) (devicelink.Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if len(o.ports) == 0 {
		return nil, devicelink.ErrDeviceNotFound
	}
	p := o.ports[0]
	o.ports = o.ports[1:]
	return p, nil
}

func (o *queueOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Device.ID = "dev-1"
	cfg.Device.Transport = config.TransportSerial
	cfg.Device.AutoReconnect = true
	cfg.Device.ReconnectBackoff = 10 * time.Millisecond
	cfg.Device.ReconnectMaxBackoff = 40 * time.Millisecond
	cfg.Pipeline.BufferSize = 1000
	cfg.Pipeline.TickInterval = time.Hour
	cfg.Pipeline.MinSamples = 50
	cfg.Pipeline.SegmentSamples = 1000
	cfg.Pipeline.ThresholdFactor = 1.2
	cfg.Pipeline.RefractoryMs = 200
	cfg.Pipeline.AutoScan = true
	cfg.Storage.Backend = config.StorageRedis
	cfg.Storage.SessionLimit = 20
	cfg.Storage.AlertLimit = 100
	cfg.Cache.RealtimeKeyPrefix = "neuroguard:device:"
	cfg.Cache.RealtimeSuffix = ":realtime"
	cfg.Cache.RealtimeTTL = 10
	cfg.Stream.Enabled = true
	cfg.Stream.Vitals = "neuroguard:vitals:stream"
	cfg.Stream.Reports = "neuroguard:report:stream"
	cfg.Stream.Alerts = "neuroguard:alert:stream"
	cfg.Stream.Commands = "neuroguard:command:stream"
	cfg.Stream.MaxLen = 100
	cfg.Stream.ConsumerGroup = "test-group"
	cfg.Stream.ConsumerName = "test-consumer"
	cfg.Alert.Enabled = true
	cfg.Alert.HRHigh = 100
	cfg.Alert.HRVLow = 25
	cfg.Alert.BurnoutHigh = 70
	cfg.Alert.EMGHigh = 70
	cfg.Alert.Cooldown = time.Minute
	cfg.Alert.StateKeyPrefix = "neuroguard:alert:state:"
	return cfg
}

func newTestService(t *testing.T, cfg *config.Config, ports ...*pipePort) (*SignalService, *queueOpener, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	opener := &queueOpener{ports: ports}

	svc, err := New(cfg, Dependencies{
		Redis:     client,
		Opener:    opener,
		Predictor: classifier.NopClassifier{},
	}, zap.NewNop())
	require.NoError(t, err)
	return svc, opener, client
}

func stopService(t *testing.T, svc *SignalService) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(ctx))
}

func TestNew_RequiresOpener(t *testing.T) {
	_, err := New(testConfig(), Dependencies{}, zap.NewNop())
	assert.Error(t, err)
}

func TestSignalService_StartConnectsAndScans(t *testing.T) {
	port := newPipePort()
	svc, _, client := newTestService(t, testConfig(), port)

	require.NoError(t, svc.Start(context.Background()))
	defer stopService(t, svc)

	assert.True(t, svc.Link().IsConnected())
	assert.True(t, svc.Pipeline().IsScanning())

	port.send(t, `{"ecg":2048,"emg":10}`, `{"ecg":2050,"emg":12}`, `garbage`)
	require.Eventually(t, func() bool {
		n, _ := svc.Pipeline().Buffered()
		return n == 2
	}, time.Second, 5*time.Millisecond)

	raw, err := client.Get(context.Background(), "neuroguard:device:dev-1:status").Result()
	require.NoError(t, err)
	var status models.DeviceStatus
	require.NoError(t, json.Unmarshal([]byte(raw), &status))
	assert.True(t, status.Connected)
	assert.True(t, status.Scanning)
}

func TestSignalService_StartFailsWithoutReconnect(t *testing.T) {
	cfg := testConfig()
	cfg.Device.AutoReconnect = false
	svc, _, _ := newTestService(t, cfg)

	err := svc.Start(context.Background())
	assert.ErrorIs(t, err, devicelink.ErrDeviceNotFound)
}

func TestSignalService_ReconnectsAfterUnplug(t *testing.T) {
	first, second := newPipePort(), newPipePort()
	svc, opener, _ := newTestService(t, testConfig(), first, second)

	require.NoError(t, svc.Start(context.Background()))
	defer stopService(t, svc)

	first.send(t, `{"ecg":2048,"emg":10}`)
	require.Eventually(t, func() bool {
		n, _ := svc.Pipeline().Buffered()
		return n == 1
	}, time.Second, 5*time.Millisecond)

	// 拔出设备
	require.NoError(t, first.w.Close())

	require.Eventually(t, func() bool {
		return opener.openCount() == 2 && svc.Link().IsConnected()
	}, 2*time.Second, 5*time.Millisecond)

	n, _ := svc.Pipeline().Buffered()
	assert.Equal(t, 0, n)
	assert.True(t, svc.Pipeline().IsScanning())

	second.send(t, `{"ecg":2048,"emg":10}`)
	require.Eventually(t, func() bool {
		n, _ := svc.Pipeline().Buffered()
		return n == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSignalService_Commands(t *testing.T) {
	port := newPipePort()
	cfg := testConfig()
	cfg.Pipeline.AutoScan = false
	svc, _, _ := newTestService(t, cfg, port)
	ctx := context.Background()

	assert.ErrorIs(t, svc.HandleCommand(ctx, consumer.Command{Name: consumer.CommandStartScanning}), ErrNotConnected)
	assert.Error(t, svc.HandleCommand(ctx, consumer.Command{Name: "reboot"}))

	require.NoError(t, svc.HandleCommand(ctx, consumer.Command{Name: consumer.CommandConnect}))
	assert.False(t, svc.Pipeline().IsScanning())

	require.NoError(t, svc.HandleCommand(ctx, consumer.Command{Name: consumer.CommandStartScanning}))
	assert.True(t, svc.Pipeline().IsScanning())

	// 数据不足时完整分析失败
	assert.Error(t, svc.HandleCommand(ctx, consumer.Command{Name: consumer.CommandAnalyzeNow}))

	require.NoError(t, svc.HandleCommand(ctx, consumer.Command{Name: consumer.CommandFinishSession}))
	assert.False(t, svc.Pipeline().IsScanning())

	sessions, err := svc.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "dev-1", sessions[0].DeviceID)

	require.NoError(t, svc.HandleCommand(ctx, consumer.Command{Name: consumer.CommandStopScanning}))
	require.NoError(t, svc.HandleCommand(ctx, consumer.Command{Name: consumer.CommandDisconnect}))
	assert.False(t, svc.Link().IsConnected())

	path := filepath.Join(t.TempDir(), "sessions.xlsx")
	n, err := svc.ExportSessions(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// stuckPort 先返回预置数据，之后 Read 一直阻塞，Close 无法打断
type stuckPort struct {
	data    chan []byte
	release chan struct{}
}

func (p *stuckPort) Read(b []byte) (int, error) {
	select {
	case chunk := <-p.data:
		return copy(b, chunk), nil
	case <-p.release:
		return 0, io.EOF
	}
}

func (p *stuckPort) Close() error { return nil }

type stuckOpener struct {
	port *stuckPort
}

func (o *stuckOpener) Open(context.Context) (devicelink.Port, error) { return o.port, nil }

func TestSignalService_DisconnectResetsBeforeTeardown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	port := &stuckPort{data: make(chan []byte, 4), release: make(chan struct{})}
	defer close(port.release)
	svc, err := New(testConfig(), Dependencies{Redis: client, Opener: &stuckOpener{port: port}}, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, svc.Connect(ctx))
	port.data <- []byte("{\"ecg\":2048,\"emg\":10}\n")
	require.Eventually(t, func() bool {
		n, _ := svc.Pipeline().Buffered()
		return n == 1
	}, time.Second, 5*time.Millisecond)

	disconnectCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- svc.Disconnect(disconnectCtx) }()

	// 传输层仍在清理时信号处理已重置
	require.Eventually(t, func() bool {
		n, _ := svc.Pipeline().Buffered()
		return n == 0 && !svc.Pipeline().IsScanning()
	}, 200*time.Millisecond, 2*time.Millisecond)
	select {
	case <-done:
		t.Fatal("disconnect returned before the read loop timed out")
	default:
	}
	assert.Equal(t, models.Vitals{}, svc.Pipeline().Vitals())

	assert.ErrorIs(t, <-done, context.DeadlineExceeded)
	assert.False(t, svc.Link().IsConnected())
}

func TestSignalService_NoStorage(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Backend = config.StorageNone
	svc, _, _ := newTestService(t, cfg)

	_, err := svc.Sessions(context.Background())
	assert.True(t, errors.Is(err, ErrNoStorage))
}
