package verify

import (
	"fmt"

	"github.com/lthibault/log"
	"github.com/prometheus/client_golang/prometheus"
)

// VerificationManager fans signature checks out to a fixed number of worker
// goroutines over three queues, so a flood of one message class cannot starve
// the others.
type VerificationManager struct {
	VerifyMessageCh      chan Request
	VerifyContributionCh chan Request
	VerifyOtherCh        chan Request

	l log.Logger

	m VerificationManagerMetrics
}

func NewVerificationManager(l log.Logger, verifySize uint) *VerificationManager {
	vm := &VerificationManager{
		l: l,

		VerifyMessageCh:      make(chan Request, verifySize),
		VerifyContributionCh: make(chan Request, verifySize),
		VerifyOtherCh:        make(chan Request, verifySize),
	}
	vm.initMetrics()
	return vm
}

func (vm *VerificationManager) RunVerify(num uint) {
	for i := uint(0); i < num; i++ {
		go vm.VerifyParallel()
	}
}

func (vm *VerificationManager) GetVerifyChan(stack uint) chan Request {
	switch stack {
	case ResponseQueueMessage:
		return vm.VerifyMessageCh
	case ResponseQueueContribution:
		return vm.VerifyContributionCh
	default: // ResponseQueueOther
		return vm.VerifyOtherCh
	}
}

func (vm *VerificationManager) VerifyParallel() {
	vm.m.RunningWorkers.WithLabelValues("VerifyParallel").Inc()
	defer vm.m.RunningWorkers.WithLabelValues("VerifyParallel").Dec()

	timerA := vm.m.VerifyTiming.WithLabelValues("message")
	timerB := vm.m.VerifyTiming.WithLabelValues("contribution")
	timerC := vm.m.VerifyTiming.WithLabelValues("other")

	// Workers drain all three queues in select order, which is random across
	// ready channels. A huge number of requests on one queue does not keep the
	// other queues from being processed.
	for {
		select {
		case v := <-vm.VerifyMessageCh:
			_ = verifyCheck(timerA, v)
		case v := <-vm.VerifyContributionCh:
			_ = verifyCheck(timerB, v)
		case v := <-vm.VerifyOtherCh:
			_ = verifyCheck(timerC, v)
		}
	}
}

func verifyCheck(o prometheus.Observer, v Request) (err error) {
	defer func() { // better safe than sorry
		if r := recover(); r != nil {
			var isErr bool
			err, isErr = r.(error)
			if !isErr {
				err = fmt.Errorf("verify signature bytes panic: %v", r)
			}
		}
	}()

	if v.Response.IsClosed() {
		return nil
	}
	t := prometheus.NewTimer(o)
	defer t.ObserveDuration()

	v.Response.Send(verifyUnit(v.ID, v.Msg, v.Signature, v.Pubkey))
	return err
}

func verifyUnit(id int, msg [32]byte, sigBytes [96]byte, pkBytes [48]byte) Resp {
	ok, err := VerifySignatureBytes(msg, sigBytes[:], pkBytes[:])
	if err == nil && !ok {
		err = ErrInvalidSignature
	}
	return Resp{Err: err, ID: id}
}
