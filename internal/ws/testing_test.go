package ws

import "sync"

// fakeSender is an in-memory Sender for registry and broker tests
type fakeSender struct {
	mu     sync.Mutex
	msgs   []*Message
	fail   bool
	closed bool
}

func (f *fakeSender) Enqueue(msg *Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrConnectionClosed
	}
	if f.fail {
		return ErrSendQueueFull
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeSender) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSender) received() []*Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Message(nil), f.msgs...)
}

func (f *fakeSender) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSender) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}
