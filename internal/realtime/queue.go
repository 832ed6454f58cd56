package realtime

// outboundQueue is the FIFO buffer of messages pending transmission
// while not connected. Append-only until drained; each entry is
// removed immediately before it is handed to the transport. No size
// cap: an indefinitely disconnected client accumulates entries until
// the next open or a forced disconnect clears them.
//
// Not self-locking; the client's mutex guards all access.
type outboundQueue struct {
	items [][]byte
	head  int
}

func (q *outboundQueue) push(data []byte) {
	q.items = append(q.items, data)
}

func (q *outboundQueue) pop() ([]byte, bool) {
	if q.head >= len(q.items) {
		return nil, false
	}
	data := q.items[q.head]
	q.items[q.head] = nil // release for GC
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return data, true
}

func (q *outboundQueue) len() int {
	return len(q.items) - q.head
}

func (q *outboundQueue) clear() {
	q.items = nil
	q.head = 0
}
