package core

import (
	"container/heap"
	"fmt"
	"math/rand"
	"sort"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethp2p/sparse-blobpool/internal/metrics"
)

// Kernel is the single-threaded, deterministic discrete event scheduler.
// It owns the event queue, the actor registry and the one seeded PRNG all
// dynamic randomness must flow from. Two runs with the same seed and
// configuration produce byte-identical output.
type Kernel struct {
	now       float64
	queue     eventQueue
	seq       uint64
	actors    map[ActorID]Actor
	rng       *rand.Rand
	processed uint64
}

// NewKernel creates a kernel with its PRNG seeded from seed.
func NewKernel(seed int64) *Kernel {
	return &Kernel{
		actors: make(map[ActorID]Actor),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Now returns the current simulated time in seconds.
func (k *Kernel) Now() float64 { return k.now }

// RNG returns the kernel's seeded PRNG. It must only be used from within
// the kernel loop (or during setup, before any event is dispatched).
func (k *Kernel) RNG() *rand.Rand { return k.rng }

// EventsProcessed returns the number of events dispatched so far.
func (k *Kernel) EventsProcessed() uint64 { return k.processed }

// PendingEventCount returns the number of events still queued.
func (k *Kernel) PendingEventCount() int { return len(k.queue) }

// Register adds an actor to the registry. Registering a duplicate ID is a
// setup error.
func (k *Kernel) Register(a Actor) error {
	if _, ok := k.actors[a.ID()]; ok {
		return fmt.Errorf("actor %q already registered", a.ID())
	}
	k.actors[a.ID()] = a
	return nil
}

// Actor returns the registered actor for id, or nil.
func (k *Kernel) Actor(id ActorID) Actor { return k.actors[id] }

// ActorIDs returns all registered actor IDs in sorted order.
func (k *Kernel) ActorIDs() []ActorID {
	ids := make([]ActorID, 0, len(k.actors))
	for id := range k.actors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Schedule enqueues an event. Scheduling into the past is a programmer
// error and panics.
func (k *Kernel) Schedule(ev Event) {
	if ev.Time < k.now {
		panic(fmt.Sprintf("schedule in past: %v < %v", ev.Time, k.now))
	}
	ev.seq = k.seq
	k.seq++
	heap.Push(&k.queue, &ev)
}

// DeliverCommand schedules cmd for immediate delivery to target.
func (k *Kernel) DeliverCommand(cmd Command, target ActorID) {
	k.Schedule(Event{
		Time:     k.now,
		Priority: CommandPriority,
		Target:   target,
		Payload:  cmd,
	})
}

// RunUntil dispatches queued events whose timestamp is <= t, advancing
// simulated time as it goes. Events beyond t stay queued.
func (k *Kernel) RunUntil(t float64) {
	for len(k.queue) > 0 && k.queue[0].Time <= t {
		k.step()
	}
	if t > k.now {
		k.now = t
	}
}

// RunUntilEmpty dispatches every queued event, including those scheduled
// by handlers along the way.
func (k *Kernel) RunUntilEmpty() {
	for len(k.queue) > 0 {
		k.step()
	}
}

func (k *Kernel) step() {
	ev := heap.Pop(&k.queue).(*Event)
	k.now = ev.Time
	actor, ok := k.actors[ev.Target]
	if !ok {
		panic(fmt.Sprintf("event targeted unknown actor %q", ev.Target))
	}
	log.Trace("Dispatching event", "time", k.now, "target", ev.Target, "payload", fmt.Sprintf("%T", ev.Payload))
	actor.OnEvent(ev.Payload)
	k.processed++
	metrics.EventsDispatched.Inc()
}
