package chat

import "time"

// OriginSource hands out origin ids for new operations. Ids are negative
// so they never collide with server-assigned message ids, and strictly
// decreasing so two operations started in the same millisecond still get
// distinct ids. It runs on the event loop and does not lock.
type OriginSource struct {
	last int64
	now  func() time.Time
}

// NewOriginSource creates an OriginSource.
func NewOriginSource() *OriginSource {
	return &OriginSource{now: time.Now}
}

// Next returns a fresh origin id.
func (o *OriginSource) Next() int64 {
	id := -o.now().UnixMilli()
	if o.last != 0 && id >= o.last {
		id = o.last - 1
	}

	o.last = id

	return id
}
