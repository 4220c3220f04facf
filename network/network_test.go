package network

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethp2p/sparse-blobpool/core"
)

// sink is a receiving actor recording arrival times.
type sink struct {
	id       core.ActorID
	kernel   *core.Kernel
	arrivals []float64
}

func (s *sink) ID() core.ActorID { return s.id }

func (s *sink) OnEvent(core.EventPayload) {
	s.arrivals = append(s.arrivals, s.kernel.Now())
}

// testMessage is a minimal core.Message with a configurable size.
type testMessage struct {
	sender core.ActorID
	size   int
	data   bool
}

func (m *testMessage) From() core.ActorID { return m.sender }
func (m *testMessage) Size() int          { return m.size }
func (m *testMessage) Data() bool         { return m.data }

// record is one bandwidth accounting call.
type record struct {
	from, to  core.ActorID
	size      int
	isControl bool
}

type recorder struct {
	records []record
}

func (r *recorder) RecordBandwidth(from, to core.ActorID, size int, isControl bool) {
	r.records = append(r.records, record{from, to, size, isControl})
}

func flatModel(baseMs float64) *LatencyModel {
	return NewLatencyModel(map[string]map[string]float64{
		"x": {"x": baseMs},
	})
}

func TestDeliverSchedulesArrival(t *testing.T) {
	kernel := core.NewKernel(42)
	rec := new(recorder)
	net := New(kernel, flatModel(10), rec, 100*1024*1024, DefaultCodelConfig())

	receiver := &sink{id: "b", kernel: kernel}
	require.NoError(t, kernel.Register(receiver))
	net.RegisterNode("a", "x", 0)
	net.RegisterNode("b", "x", 0)

	net.Deliver(&testMessage{sender: "a", size: 1000}, "a", "b")
	kernel.RunUntilEmpty()

	require.Len(t, receiver.arrivals, 1)
	// Base 10ms with 5% jitter; transmission and queue delay are tiny.
	require.Greater(t, receiver.arrivals[0], 0.005)
	require.Less(t, receiver.arrivals[0], 0.050)

	require.Equal(t, uint64(1), net.MessagesDelivered())
	require.Equal(t, uint64(1000), net.TotalBytes())
}

func TestDeliverAccountsBandwidth(t *testing.T) {
	kernel := core.NewKernel(42)
	rec := new(recorder)
	net := New(kernel, flatModel(10), rec, 100*1024*1024, DefaultCodelConfig())

	receiver := &sink{id: "b", kernel: kernel}
	require.NoError(t, kernel.Register(receiver))

	net.Deliver(&testMessage{sender: "a", size: 100, data: false}, "a", "b")
	net.Deliver(&testMessage{sender: "a", size: 5000, data: true}, "a", "b")

	require.Equal(t, []record{
		{"a", "b", 100, true},   // control
		{"a", "b", 5000, false}, // data
	}, rec.records)
}

func TestTransmissionUsesLowerBandwidth(t *testing.T) {
	kernel := core.NewKernel(42)
	net := New(kernel, flatModel(0), new(recorder), 100*1024*1024, DefaultCodelConfig())

	receiver := &sink{id: "b", kernel: kernel}
	require.NoError(t, kernel.Register(receiver))
	net.RegisterNode("a", "x", 1024*1024) // 1 MB/s uplink
	net.RegisterNode("b", "x", 0)         // default 100 MB/s

	net.Deliver(&testMessage{sender: "a", size: 1024 * 1024}, "a", "b")
	kernel.RunUntilEmpty()

	// A 1 MiB message through a 1 MiB/s bottleneck takes about a second.
	require.InDelta(t, 1.0, receiver.arrivals[0], 0.2)
}

func TestCodelUnderLoad(t *testing.T) {
	kernel := core.NewKernel(42)
	// Same country, 10ms base, 1 MB/s links.
	net := New(kernel, flatModel(10), new(recorder), 1024*1024, DefaultCodelConfig())

	receiver := &sink{id: "b", kernel: kernel}
	require.NoError(t, kernel.Register(receiver))
	net.RegisterNode("a", "x", 0)
	net.RegisterNode("b", "x", 0)

	// Back-to-back 1 KB then 100 KB: the second message pays its own
	// transmission time plus the queue built by the first.
	net.Deliver(&testMessage{sender: "a", size: 1024}, "a", "b")
	net.Deliver(&testMessage{sender: "a", size: 100 * 1024}, "a", "b")
	kernel.RunUntilEmpty()

	require.Len(t, receiver.arrivals, 2)
	delta := receiver.arrivals[1] - receiver.arrivals[0]
	require.Greater(t, delta, 0.050, "second arrival should trail by more than the 100KB transmission time")
}

func TestCodelDelayGrowsUnderSustainedLoad(t *testing.T) {
	cfg := DefaultCodelConfig()
	state := new(codelState)

	// Saturate the virtual queue well past the 5ms sojourn target.
	first := state.delay(0.2, cfg.MaxQueueBytes, cfg)
	require.Greater(t, first, cfg.TargetDelay)
	require.Equal(t, 1, state.dropCount)

	// Keep the queue pinned at its cap: the backoff factor keeps growing
	// as drops accumulate.
	var last float64
	for i := 1; i <= 20; i++ {
		last = state.delay(0.2+float64(i)*0.05, cfg.MaxQueueBytes, cfg)
	}
	require.Greater(t, last, first)
	require.Greater(t, state.dropCount, 1)
}

func TestCodelQueueDrainsAndForgets(t *testing.T) {
	cfg := DefaultCodelConfig()
	state := new(codelState)

	state.delay(0.2, 2*1024*1024, cfg)
	require.Greater(t, state.dropCount, 0)

	// After a long idle period the queue drains fully and the drop
	// history resets.
	d := state.delay(10, 1024, cfg)
	require.Equal(t, 0, state.dropCount)
	require.Less(t, d, cfg.TargetDelay)
}

func TestCodelQueueCapped(t *testing.T) {
	cfg := DefaultCodelConfig()
	state := new(codelState)

	for i := 0; i < 10; i++ {
		state.delay(0, cfg.MaxQueueBytes, cfg)
	}
	require.LessOrEqual(t, state.queueBytes, float64(cfg.MaxQueueBytes))
}

func TestDelayNeverNegative(t *testing.T) {
	kernel := core.NewKernel(7)
	net := New(kernel, flatModel(1), new(recorder), 100*1024*1024, DefaultCodelConfig())
	net.RegisterNode("a", "x", 0)
	net.RegisterNode("b", "x", 0)

	// With a 1ms base the Gaussian jitter regularly dips negative; the
	// computed delay must clamp at zero.
	for i := 0; i < 1000; i++ {
		require.GreaterOrEqual(t, net.delay("a", "b", 0), 0.0)
	}
}
