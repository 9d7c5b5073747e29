package gigecapture

// Consumer receives validated frames from the acquisition loop.
//
// Implementations must guarantee:
//   - DeliverFrame returns quickly; it runs on the acquisition loop with the
//     driver lock held, so a slow consumer stalls acquisition
//   - the frame is not used after DeliverFrame returns unless the consumer
//     called f.Retain() during the call (and later calls f.Release())
//   - f.Data is never modified
type Consumer interface {
	DeliverFrame(f *Frame)
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(f *Frame)

// DeliverFrame calls fn(f).
func (fn ConsumerFunc) DeliverFrame(f *Frame) {
	fn(f)
}

// Consumers delivers each frame to every consumer in order.
type Consumers []Consumer

// DeliverFrame implements Consumer.
func (cs Consumers) DeliverFrame(f *Frame) {
	for _, c := range cs {
		c.DeliverFrame(f)
	}
}
