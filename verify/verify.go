package verify

import (
	"errors"
	"sync"
	"sync/atomic"
)

const (
	ResponseQueueMessage = iota
	ResponseQueueContribution
	ResponseQueueOther
)

var ErrInvalidSignature = errors.New("invalid signature")

// Request is the unit of work sent from verification calls to the fixed set of
// worker goroutines. It uses the return channel pattern: after sending, the
// sender blocks on the response until all its requests are adjudicated.
type Request struct {
	Signature [96]byte
	Pubkey    [48]byte
	Msg       [32]byte
	// Unique identifier of payload
	// if needed to be passed back in response
	ID       int
	Response *StoreResp
}

// Resp response structure
// - potential candidate for structure pool
// as it's almost constant size
type Resp struct {
	ID  int
	Err error
}

type StoreResp struct {
	nonErrors []int64
	numAll    int

	rLock    sync.Mutex
	isClosed int32
	err      error

	done chan error
}

func NewRespC(numAll int) (s *StoreResp) {
	return &StoreResp{
		numAll: numAll,
		done:   make(chan error, 1),
	}
}

func (s *StoreResp) Done() chan error {
	return s.done
}

func (s *StoreResp) IsClosed() bool {
	return atomic.LoadInt32(&(s.isClosed)) != 0
}

func (s *StoreResp) Send(r Resp) {
	s.rLock.Lock()
	defer s.rLock.Unlock()

	if s.IsClosed() {
		return
	}

	if r.Err != nil {
		s.err = r.Err
		s.close()
		return
	}

	s.nonErrors = append(s.nonErrors, int64(r.ID))
	if s.numAll == len(s.nonErrors) {
		s.close()
		return
	}
}

func (s *StoreResp) Error() (err error) {
	return s.err
}

func (s *StoreResp) Close(id int, err error) {
	s.rLock.Lock()
	defer s.rLock.Unlock()

	if err != nil {
		s.err = err
	}
	s.close()
}

func (s *StoreResp) close() {
	if !s.IsClosed() {
		atomic.StoreInt32(&(s.isClosed), int32(1))
		close(s.done)
	}
}
