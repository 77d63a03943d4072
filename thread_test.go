package binder

import (
	"testing"
	"time"
)

func TestThreadStateTransitions(t *testing.T) {
	proc, _ := NewTestProcess(1)
	th := NewThread(1, proc)

	if th.State() != ThreadRegistered {
		t.Errorf("expected ThreadRegistered initially, got %v", th.State())
	}
	if th.IsLooper() {
		t.Error("a freshly registered thread should not be a looper yet")
	}

	th.SetLooper()
	if th.State() != ThreadLooping || !th.IsLooper() {
		t.Error("expected SetLooper to move the thread into the looping state")
	}

	th.Exit()
	if th.State() != ThreadExited {
		t.Error("expected Exit to move the thread into the exited state")
	}

	// Exit is terminal: SetLooper afterward must not resurrect it.
	th.SetLooper()
	if th.State() != ThreadExited {
		t.Error("SetLooper must not override an exited thread's state")
	}
}

func TestThreadTakeWorkOrdersReturnWorkFirst(t *testing.T) {
	proc, _ := NewTestProcess(1)
	th := NewThread(1, proc)

	th.Deliver(&TransactionWork{Payload: []byte("regular")})
	th.PushReturnWork(&ClearDeathWork{})

	item, ok := th.TakeWork()
	if !ok {
		t.Fatal("expected work to be available")
	}
	if item.Kind() != "clear_death_done" {
		t.Errorf("expected return work to be taken first, got %s", item.Kind())
	}

	item, ok = th.TakeWork()
	if !ok || item.Kind() != "transaction" {
		t.Errorf("expected the regular work item next, got ok=%v kind=%v", ok, item)
	}

	if _, ok := th.TakeWork(); ok {
		t.Error("expected no more work after draining both queues")
	}
}

func TestThreadPendingWork(t *testing.T) {
	proc, _ := NewTestProcess(1)
	th := NewThread(1, proc)

	if th.PendingWork() {
		t.Error("expected no pending work on a fresh thread")
	}
	th.Deliver(&TransactionWork{})
	if !th.PendingWork() {
		t.Error("expected pending work after Deliver")
	}
}

func TestThreadWaitForWorkDelivered(t *testing.T) {
	proc, _ := NewTestProcess(1)
	th := NewThread(1, proc)
	wake := make(chan struct{})

	result := make(chan DeliverToRead, 1)
	go func() {
		item, ok := th.WaitForWork(wake)
		if ok {
			result <- item
		} else {
			result <- nil
		}
	}()

	time.Sleep(10 * time.Millisecond)
	th.Deliver(&TransactionWork{Payload: []byte("hello")})

	select {
	case item := <-result:
		if item == nil || item.Kind() != "transaction" {
			t.Errorf("expected a transaction item, got %v", item)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for WaitForWork to return")
	}
}

func TestThreadWaitForWorkWoken(t *testing.T) {
	proc, _ := NewTestProcess(1)
	th := NewThread(1, proc)
	wake := make(chan struct{})

	result := make(chan bool, 1)
	go func() {
		_, ok := th.WaitForWork(wake)
		result <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	close(wake)

	select {
	case ok := <-result:
		if ok {
			t.Error("expected WaitForWork to report false when woken without work")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for WaitForWork to unblock on wake")
	}
}

func TestThreadExtendedErrorRoundTrip(t *testing.T) {
	proc, _ := NewTestProcess(1)
	th := NewThread(1, proc)

	if th.GetExtendedError() != nil {
		t.Error("expected no extended error initially")
	}

	err := NewError("freeze", CodeTryAgain, "timed out")
	th.SetExtendedError(err)

	got := th.GetExtendedError()
	if got != err {
		t.Errorf("expected to get back the same error, got %v", got)
	}

	// GetExtendedError clears after reading.
	if th.GetExtendedError() != nil {
		t.Error("expected extended error to be cleared after one read")
	}
}

func TestThreadTransactionNesting(t *testing.T) {
	proc, _ := NewTestProcess(1)
	th := NewThread(1, proc)

	if th.HasCurrentTransaction() {
		t.Error("expected no current transaction initially")
	}

	th.BeginTransaction()
	th.BeginTransaction()
	if !th.HasCurrentTransaction() {
		t.Error("expected a current transaction after nested BeginTransaction calls")
	}

	th.EndTransaction()
	if !th.HasCurrentTransaction() {
		t.Error("expected the transaction to still be active after one EndTransaction")
	}
	th.EndTransaction()
	if th.HasCurrentTransaction() {
		t.Error("expected no current transaction after matching EndTransaction calls")
	}

	// An extra EndTransaction beyond zero must not underflow.
	th.EndTransaction()
	if th.HasCurrentTransaction() {
		t.Error("EndTransaction beyond zero should remain a no-op")
	}
}

func TestRegistrationCloseIsIdempotent(t *testing.T) {
	proc, _ := NewTestProcess(1)
	th := proc.RegisterThread()

	_, reg := proc.GetWorkOrRegister(th)
	if reg == nil {
		t.Fatal("expected a Registration when no work is queued")
	}

	reg.Close()
	reg.Close() // must not panic or double-remove

	// The thread is no longer parked on ready_threads, so pushing work
	// now must land on the process-wide queue rather than being
	// delivered directly to th.
	if err := proc.PushWork(&TransactionWork{Payload: []byte("x")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if th.PendingWork() {
		t.Error("expected the closed registration not to receive direct delivery")
	}

	item, reg2 := proc.GetWorkOrRegister(th)
	if reg2 != nil || item == nil {
		t.Error("expected the process-queued item to be returned immediately")
	}
}
