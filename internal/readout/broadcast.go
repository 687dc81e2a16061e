package readout

import "sync"

// Broadcaster fans snapshots out to display consumers. Slow consumers
// miss updates rather than stalling the publisher: sends never block,
// and a full subscriber channel simply drops that update.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Snapshot
	nextID int

	last     Snapshot
	haveLast bool

	// Smoothing is applied to roll and pitch only. The heading wraps at
	// 360, where a running average would sweep through the whole dial.
	alpha   float64
	smRoll  float64
	smPitch float64
	haveSm  bool
}

// NewBroadcaster returns a broadcaster that low-passes roll and pitch
// with the given EMA alpha. Values outside (0, 1) disable smoothing.
func NewBroadcaster(alpha float64) *Broadcaster {
	return &Broadcaster{
		subs:  make(map[int]chan Snapshot),
		alpha: alpha,
	}
}

// Subscribe registers a consumer and returns its id and channel. The
// most recent snapshot, if any, is delivered immediately so a consumer
// attaching mid-run does not start blank.
func (b *Broadcaster) Subscribe(buffer int) (int, <-chan Snapshot) {
	if buffer < 1 {
		buffer = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Snapshot, buffer)
	b.subs[id] = ch
	if b.haveLast {
		ch <- b.last
	}
	return id, ch
}

// Unsubscribe removes the consumer and closes its channel.
func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(ch)
}

// Publish delivers snap to every subscriber that has room for it.
func (b *Broadcaster) Publish(snap Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap = b.applySmoothing(snap)
	b.last = snap
	b.haveLast = true

	for _, ch := range b.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (b *Broadcaster) applySmoothing(snap Snapshot) Snapshot {
	if b.alpha <= 0 || b.alpha >= 1 {
		return snap
	}
	// Manual values are shown exactly and reseed the filter.
	if snap.Manual {
		b.smRoll = snap.RollDeg
		b.smPitch = snap.PitchDeg
		b.haveSm = true
		return snap
	}
	if !b.haveSm {
		b.smRoll = snap.RollDeg
		b.smPitch = snap.PitchDeg
		b.haveSm = true
		return snap
	}
	b.smRoll = b.alpha*snap.RollDeg + (1-b.alpha)*b.smRoll
	b.smPitch = b.alpha*snap.PitchDeg + (1-b.alpha)*b.smPitch
	snap.RollDeg = b.smRoll
	snap.PitchDeg = b.smPitch
	return snap
}
