package hostsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"lms-zabbix-sync/core/buffer"
	"lms-zabbix-sync/core/config"
	"lms-zabbix-sync/core/event"
	"lms-zabbix-sync/core/metrics"
	"lms-zabbix-sync/core/queue"
	"lms-zabbix-sync/core/reconcile"
	"lms-zabbix-sync/core/storage"
	"lms-zabbix-sync/core/zabbix"
	"lms-zabbix-sync/core/zabbix/mocks"
	"lms-zabbix-sync/feature/journal"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeMessage struct {
	id          string
	body        []byte
	redelivered bool

	mu       sync.Mutex
	acked    int
	nacked   int
	requeued bool
}

func newMessage(id, body string) *fakeMessage {
	return &fakeMessage{id: id, body: []byte(body)}
}

func (m *fakeMessage) ID() string        { return m.id }
func (m *fakeMessage) Body() []byte      { return m.body }
func (m *fakeMessage) Redelivered() bool { return m.redelivered }

func (m *fakeMessage) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked++
	return nil
}

func (m *fakeMessage) Nack(requeue bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nacked++
	m.requeued = requeue
	return nil
}

func (m *fakeMessage) settled() (acked, nacked int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acked, m.nacked
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (f *fakeJournal) Record(_ context.Context, e journal.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeJournal) outcomes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.entries {
		out = append(out, e.Outcome)
	}
	return out
}

type fakeDeadLetters struct {
	mu      sync.Mutex
	letters []storage.DeadLetter
}

func (f *fakeDeadLetters) Put(_ context.Context, dl storage.DeadLetter) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.letters = append(f.letters, dl)
	return fmt.Sprintf("dead-letters/%s.json", dl.MessageID), nil
}

type fixture struct {
	svc     *Service
	client  *mocks.Client
	journal *fakeJournal
	dead    *fakeDeadLetters
	metrics *metrics.Collector
	buffer  *buffer.Buffer
	logs    *observer.ObservedLogs
}

func setup(t *testing.T, opts ...buffer.Option) *fixture {
	t.Helper()
	required, err := event.ParseFields([]string{"name", "ip", "iface", "group"})
	require.NoError(t, err)

	opts = append([]buffer.Option{buffer.WithDefaults(event.DeviceFields{GroupID: event.Ptr("1")})}, opts...)
	buf := buffer.New(required, opts...)
	client := new(mocks.Client)
	engine := reconcile.NewEngine(client, reconcile.WithDefaultGroup("1"))
	core, logs := observer.New(zap.DebugLevel)

	f := &fixture{
		client:  client,
		journal: &fakeJournal{},
		dead:    &fakeDeadLetters{},
		metrics: metrics.NewCollector(nil),
		buffer:  buf,
		logs:    logs,
	}
	f.svc = NewService(config.SyncConfig{
		Workers:       2,
		MaxAge:        time.Minute,
		EvictInterval: time.Hour,
		ApplyTimeout:  time.Second,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 5 * time.Millisecond,
	}, buf, engine, client, zap.New(core),
		WithJournal(f.journal),
		WithDeadLetters(f.dead),
		WithMetrics(f.metrics))
	return f
}

const (
	deviceInsert = `{"Action":"INSERT","Table":"netdevices","ID":4,"Payload":"{\"id\":4,\"name\":\"#sw1\",\"description\":\"core switch\",\"status\":0}"}`
	nodeInsert   = `{"Action":"INSERT","Table":"nodes","ID":17,"Payload":"{\"id\":17,\"netdev\":4,\"ipaddr\":167772161,\"name\":\"eth0\"}"}`
	deviceDelete = `{"Action":"DELETE","Table":"netdevices","ID":4,"Payload":""}`
	nodeDelete   = `{"Action":"DELETE","Table":"nodes","ID":17,"Payload":"{\"id\":17,\"netdev\":4,\"ipaddr\":167772161}"}`
	deviceUpdate = `{"Action":"UPDATE","Table":"netdevices","ID":4,"Payload":"{\"id\":4,\"status\":1}"}`
	nodeMove     = `{"Action":"UPDATE","Table":"nodes","ID":17,"Payload":"{\"id\":17,\"netdev\":4,\"ipaddr\":167772162}"}`
	nodeGone     = `{"Action":"DELETE","Table":"nodes","ID":17,"Payload":"{\"id\":17,\"netdev\":4,\"ipaddr\":167772162}"}`
)

func existingHost() *zabbix.Host {
	return &zabbix.Host{
		HostID: "10500",
		HostPayload: zabbix.HostPayload{
			Host:     "device-4",
			Name:     "sw1",
			Status:   0,
			GroupIDs: []string{"1"},
			Interfaces: []zabbix.HostInterface{
				{InterfaceID: "77", Type: zabbix.InterfaceTypeAgent, Main: true, IP: "10.0.0.1", Port: "10050", NodeID: 17},
			},
		},
	}
}

func TestHandleMessage_CreatesHostOnceComplete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.client.On("GetHost", mock.Anything, "device-4").Return(nil, nil)
	f.client.On("CreateHost", mock.Anything, mock.MatchedBy(func(p zabbix.HostPayload) bool {
		return p.Host == "device-4" && p.Name == "sw1" &&
			len(p.Interfaces) == 1 && p.Interfaces[0].IP == "10.0.0.1" && p.Interfaces[0].Main &&
			len(p.GroupIDs) == 1 && p.GroupIDs[0] == "1"
	})).Return("10500", nil).Once()

	first := newMessage("m-1", deviceInsert)
	f.svc.HandleMessage(ctx, first)
	acked, _ := first.settled()
	assert.Equal(t, 1, acked, "incomplete records are acknowledged")
	f.client.AssertNotCalled(t, "CreateHost", mock.Anything, mock.Anything)

	second := newMessage("m-2", nodeInsert)
	f.svc.HandleMessage(ctx, second)
	acked, nacked := second.settled()
	assert.Equal(t, 1, acked)
	assert.Zero(t, nacked)

	f.client.AssertExpectations(t)
	assert.Equal(t, 0, f.buffer.Len())
	assert.Equal(t, []string{journal.OutcomeApplied}, f.journal.outcomes())
	assert.Equal(t, "10500", f.journal.entries[0].HostID)
	assert.Equal(t, 1, testutil.CollectAndCount(f.metrics, "lms_zabbix_sync_host_actions_total"))
}

func TestHandleMessage_NoopWhenHostMatches(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	host := existingHost()
	host.Description = "core switch"
	f.client.On("GetHost", mock.Anything, "device-4").Return(host, nil)

	f.svc.HandleMessage(ctx, newMessage("m-1", deviceInsert))
	f.svc.HandleMessage(ctx, newMessage("m-2", nodeInsert))

	f.client.AssertNotCalled(t, "CreateHost", mock.Anything, mock.Anything)
	f.client.AssertNotCalled(t, "UpdateHost", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, []string{journal.OutcomeNoop}, f.journal.outcomes())
}

func TestHandleMessage_Malformed(t *testing.T) {
	f := setup(t)

	msg := newMessage("bad", `{"Action":"INSERT","Table":"routers","ID":1}`)
	f.svc.HandleMessage(context.Background(), msg)

	acked, nacked := msg.settled()
	assert.Equal(t, 1, acked)
	assert.Zero(t, nacked)
	f.client.AssertNotCalled(t, "GetHost", mock.Anything, mock.Anything)

	require.Len(t, f.dead.letters, 1)
	assert.Equal(t, storage.ReasonMalformed, f.dead.letters[0].Reason)
	assert.Equal(t, msg.body, f.dead.letters[0].Body)
	assert.Equal(t, []string{journal.OutcomeDropped}, f.journal.outcomes())
}

func TestHandleMessage_PermanentFailureDrops(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.client.On("GetHost", mock.Anything, "device-4").Return(nil, nil)
	f.client.On("CreateHost", mock.Anything, mock.Anything).
		Return("", &zabbix.APIError{Method: "host.create", Code: -32602, Message: "Invalid params."})

	f.svc.HandleMessage(ctx, newMessage("m-1", deviceInsert))
	msg := newMessage("m-2", nodeInsert)
	f.svc.HandleMessage(ctx, msg)

	acked, nacked := msg.settled()
	assert.Equal(t, 1, acked)
	assert.Zero(t, nacked)
	assert.Equal(t, 0, f.buffer.Len(), "rejected records are not kept")

	require.Len(t, f.dead.letters, 1)
	assert.Equal(t, storage.ReasonRejected, f.dead.letters[0].Reason)
	assert.Equal(t, int64(4), f.dead.letters[0].DeviceID)
	assert.Equal(t, []string{journal.OutcomeDropped}, f.journal.outcomes())
}

func TestHandleMessage_TransientFailureRequeuesOnShutdown(t *testing.T) {
	f := setup(t)

	f.client.On("GetHost", mock.Anything, "device-4").
		Return(nil, &zabbix.TransientError{Method: "host.get", Err: errors.New("connection reset")})

	f.svc.HandleMessage(context.Background(), newMessage("m-1", deviceInsert))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	msg := newMessage("m-2", nodeInsert)
	f.svc.HandleMessage(ctx, msg)

	acked, nacked := msg.settled()
	assert.Zero(t, acked)
	assert.Equal(t, 1, nacked)
	assert.True(t, msg.requeued)
	assert.Greater(t, f.logs.FilterMessage("Sync failed, retrying").Len(), 1, "retried until the context ended")

	rec, ok := f.buffer.Get(4)
	require.True(t, ok, "completed record is restored for the redelivery")
	assert.Equal(t, "sw1", *rec.Device.Name)
	assert.Equal(t, "10.0.0.1", *rec.Node.IP)
	assert.Equal(t, []string{journal.OutcomeRequeued}, f.journal.outcomes())
	assert.Empty(t, f.dead.letters)
}

func TestHandleMessage_RetriesTransientFailureInPlace(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.client.On("GetHost", mock.Anything, "device-4").
		Return(nil, &zabbix.TransientError{Method: "host.get", Err: errors.New("timeout")}).Once()
	f.client.On("GetHost", mock.Anything, "device-4").Return(nil, nil)
	f.client.On("CreateHost", mock.Anything, mock.Anything).Return("10500", nil).Once()

	f.svc.HandleMessage(ctx, newMessage("m-1", deviceInsert))
	msg := newMessage("m-2", nodeInsert)
	f.svc.HandleMessage(ctx, msg)

	acked, nacked := msg.settled()
	assert.Equal(t, 1, acked)
	assert.Zero(t, nacked)
	f.client.AssertExpectations(t)
	assert.Equal(t, 1, f.logs.FilterMessage("Sync failed, retrying").Len())
	assert.Equal(t, []string{journal.OutcomeApplied}, f.journal.outcomes())
	assert.Equal(t, 0, f.buffer.Len())
}

func TestHandleMessage_LogsRedelivery(t *testing.T) {
	f := setup(t)

	msg := newMessage("m-1", deviceInsert)
	msg.redelivered = true
	f.svc.HandleMessage(context.Background(), msg)

	entries := f.logs.FilterMessage("Handling redelivered message").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(4), entries[0].ContextMap()["device_id"])

	merged := f.logs.FilterMessage("Merged event").All()
	require.Len(t, merged, 1)
	assert.Equal(t, true, merged[0].ContextMap()["redelivered"])

	f.svc.HandleMessage(context.Background(), newMessage("m-2", deviceInsert))
	assert.Equal(t, 1, f.logs.FilterMessage("Handling redelivered message").Len(), "first deliveries are not flagged")
}

func TestHandleMessage_DeviceDelete(t *testing.T) {
	t.Run("ExistingHost", func(t *testing.T) {
		f := setup(t)
		f.client.On("GetHost", mock.Anything, "device-4").Return(existingHost(), nil)
		f.client.On("DeleteHost", mock.Anything, "10500").Return(nil).Once()

		msg := newMessage("m-1", deviceDelete)
		f.svc.HandleMessage(context.Background(), msg)

		acked, _ := msg.settled()
		assert.Equal(t, 1, acked)
		f.client.AssertExpectations(t)
	})

	t.Run("DiscardsPendingRecord", func(t *testing.T) {
		f := setup(t)
		f.client.On("GetHost", mock.Anything, "device-4").Return(nil, nil)

		f.svc.HandleMessage(context.Background(), newMessage("m-1", deviceInsert))
		require.Equal(t, 1, f.buffer.Len())

		f.svc.HandleMessage(context.Background(), newMessage("m-2", deviceDelete))
		assert.Equal(t, 0, f.buffer.Len())
		f.client.AssertNotCalled(t, "DeleteHost", mock.Anything, mock.Anything)
		assert.Equal(t, []string{journal.OutcomeNoop}, f.journal.outcomes())
	})
}

func TestHandleMessage_UpdateBackfillsExistingHost(t *testing.T) {
	f := setup(t)
	f.client.On("GetHost", mock.Anything, "device-4").Return(existingHost(), nil)
	f.client.On("UpdateHost", mock.Anything, "10500", mock.MatchedBy(func(p zabbix.HostPayload) bool {
		return p.Status == int(event.StatusUnmonitored) && p.Name == "sw1" &&
			len(p.Interfaces) == 1 && p.Interfaces[0].InterfaceID == "77"
	})).Return(nil).Once()

	msg := newMessage("m-1", deviceUpdate)
	f.svc.HandleMessage(context.Background(), msg)

	acked, _ := msg.settled()
	assert.Equal(t, 1, acked)
	f.client.AssertExpectations(t)
	assert.Equal(t, 0, f.buffer.Len())
}

func TestHandleMessage_UpdateWithoutHostWaits(t *testing.T) {
	f := setup(t)
	f.client.On("GetHost", mock.Anything, "device-4").Return(nil, nil)

	msg := newMessage("m-1", deviceUpdate)
	f.svc.HandleMessage(context.Background(), msg)

	acked, _ := msg.settled()
	assert.Equal(t, 1, acked)
	assert.Equal(t, 1, f.buffer.Len())
	f.client.AssertNotCalled(t, "CreateHost", mock.Anything, mock.Anything)
}

func TestHandleMessage_LastNodeRemovalRestoresDevice(t *testing.T) {
	f := setup(t)
	f.client.On("GetHost", mock.Anything, "device-4").Return(existingHost(), nil)
	f.client.On("DeleteHost", mock.Anything, "10500").Return(nil).Once()

	msg := newMessage("m-1", nodeDelete)
	f.svc.HandleMessage(context.Background(), msg)

	acked, _ := msg.settled()
	assert.Equal(t, 1, acked)
	f.client.AssertExpectations(t)

	rec, ok := f.buffer.Get(4)
	require.True(t, ok, "device waits for a new node")
	assert.Equal(t, "sw1", *rec.Device.Name)
	assert.Nil(t, rec.Node.IP)
}

func TestHandleMessage_NodeAddressChange(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	var updated zabbix.HostPayload
	f.client.On("GetHost", mock.Anything, "device-4").Return(existingHost(), nil).Twice()
	f.client.On("UpdateHost", mock.Anything, "10500", mock.Anything).
		Run(func(args mock.Arguments) { updated = args.Get(2).(zabbix.HostPayload) }).
		Return(nil).Once()

	move := newMessage("m-1", nodeMove)
	f.svc.HandleMessage(ctx, move)
	acked, _ := move.settled()
	require.Equal(t, 1, acked)

	require.Len(t, updated.Interfaces, 1, "the old address is replaced, not kept")
	iface := updated.Interfaces[0]
	assert.Equal(t, "77", iface.InterfaceID)
	assert.Equal(t, "10.0.0.2", iface.IP)
	assert.Equal(t, int64(17), iface.NodeID)
	assert.True(t, iface.Main)

	// Zabbix now holds the moved interface; deleting the node removes the host.
	moved := existingHost()
	moved.Interfaces = updated.Interfaces
	f.client.On("GetHost", mock.Anything, "device-4").Return(moved, nil).Once()
	f.client.On("DeleteHost", mock.Anything, "10500").Return(nil).Once()

	gone := newMessage("m-2", nodeGone)
	f.svc.HandleMessage(ctx, gone)
	acked, _ = gone.settled()
	assert.Equal(t, 1, acked)

	f.client.AssertExpectations(t)
	f.client.AssertNumberOfCalls(t, "UpdateHost", 1)
	rec, ok := f.buffer.Get(4)
	require.True(t, ok, "device waits for a new node")
	assert.Nil(t, rec.Node.IP)
	assert.Equal(t, []string{journal.OutcomeApplied, journal.OutcomeApplied}, f.journal.outcomes())
}

func TestEvictStale(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	f := setup(t, buffer.WithClock(func() time.Time { return clock() }))

	f.svc.HandleMessage(context.Background(), newMessage("m-1", deviceInsert))
	require.Equal(t, 1, f.buffer.Len())

	assert.Empty(t, f.svc.EvictStale(context.Background()))

	clock = func() time.Time { return now.Add(2 * time.Minute) }
	assert.Equal(t, []int64{4}, f.svc.EvictStale(context.Background()))
	assert.Equal(t, 0, f.buffer.Len())
	assert.Equal(t, []string{journal.OutcomeEvicted}, f.journal.outcomes())
}

func TestRun(t *testing.T) {
	f := setup(t)
	f.client.On("GetHost", mock.Anything, "device-4").Return(nil, nil)
	f.client.On("GetHost", mock.Anything, "device-8").Return(nil, nil)
	f.client.On("CreateHost", mock.Anything, mock.Anything).Return("10500", nil).Twice()

	msgs := []*fakeMessage{
		newMessage("m-1", deviceInsert),
		newMessage("m-2", `{"Action":"INSERT","Table":"netdevices","ID":8,"Payload":{"id":8,"name":"sw2","status":0}}`),
		newMessage("m-3", nodeInsert),
		newMessage("m-4", `{"Action":"INSERT","Table":"nodes","ID":21,"Payload":{"id":21,"netdev":8,"ipaddr":"10.0.0.2"}}`),
		newMessage("m-5", `not json`),
	}

	in := make(chan queue.Message, len(msgs))
	for _, m := range msgs {
		in <- m
	}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Run(ctx, in))

	for _, m := range msgs {
		acked, nacked := m.settled()
		assert.Equal(t, 1, acked, "message %s", m.id)
		assert.Zero(t, nacked, "message %s", m.id)
	}
	f.client.AssertExpectations(t)
	assert.Equal(t, 0, f.buffer.Len())
}

func TestRun_TransientFailureKeepsDeviceOrder(t *testing.T) {
	f := setup(t)
	f.client.On("GetHost", mock.Anything, "device-4").Return(existingHost(), nil)

	var (
		mu    sync.Mutex
		names []string
	)
	capture := func(args mock.Arguments) {
		mu.Lock()
		defer mu.Unlock()
		names = append(names, args.Get(2).(zabbix.HostPayload).Name)
	}
	f.client.On("UpdateHost", mock.Anything, "10500", mock.Anything).Run(capture).
		Return(&zabbix.TransientError{Method: "host.update", Err: errors.New("bad gateway")}).Once()
	f.client.On("UpdateHost", mock.Anything, "10500", mock.Anything).Run(capture).Return(nil)

	msgs := []*fakeMessage{
		newMessage("m-1", `{"Action":"UPDATE","Table":"netdevices","ID":4,"Payload":"{\"id\":4,\"name\":\"A\"}"}`),
		newMessage("m-2", `{"Action":"UPDATE","Table":"netdevices","ID":4,"Payload":"{\"id\":4,\"name\":\"B\"}"}`),
	}
	in := make(chan queue.Message, len(msgs))
	for _, m := range msgs {
		in <- m
	}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Run(ctx, in))

	for _, m := range msgs {
		acked, nacked := m.settled()
		assert.Equal(t, 1, acked, "message %s", m.id)
		assert.Zero(t, nacked, "message %s", m.id)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"A", "A", "B"}, names, "the later update is applied last")
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- f.svc.Run(ctx, make(chan queue.Message))
	}()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
