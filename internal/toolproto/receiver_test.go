package toolproto

import (
	"sync"
)

// recordingReceiver collects what a transport delivers.
type recordingReceiver struct {
	mu       sync.Mutex
	messages []string
	errs     chan error
}

func newRecordingReceiver() *recordingReceiver {
	return &recordingReceiver{errs: make(chan error, 8)}
}

func (r *recordingReceiver) HandleMessage(data []byte) {
	r.mu.Lock()
	r.messages = append(r.messages, string(data))
	r.mu.Unlock()
}

func (r *recordingReceiver) HandleTransportError(err error) {
	r.errs <- err
}

func (r *recordingReceiver) received() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}
