// File: threadlet/threadlet_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package threadlet

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/momentics/hioload-core/api"
)

// The appends below are safe without locking: control alternates
// between the test goroutine and the threadlet through the rendezvous
// channels, so the accesses are strictly ordered.

func TestResumeYieldRoundTrip(t *testing.T) {
	var steps []string
	tl := New("worker", func(th *Threadlet) {
		local := 1
		steps = append(steps, "started")
		if err := th.Yield(); err != nil {
			t.Errorf("yield: %v", err)
			return
		}
		local++
		if local != 2 {
			t.Errorf("local not preserved across yield: %d", local)
		}
		steps = append(steps, "resumed")
	})

	if got := tl.Status(); got != StatusCreated {
		t.Fatalf("fresh threadlet status = %s", got)
	}

	st, err := tl.Resume()
	if err != nil {
		t.Fatalf("first resume: %v", err)
	}
	if st != StatusRunnable {
		t.Fatalf("after yield status = %s, want runnable", st)
	}
	if len(steps) != 1 || steps[0] != "started" {
		t.Fatalf("steps after first resume: %v", steps)
	}

	st, err = tl.Resume()
	if err != nil {
		t.Fatalf("second resume: %v", err)
	}
	if st != StatusFinished {
		t.Fatalf("final status = %s, want finished", st)
	}
	if len(steps) != 2 || steps[1] != "resumed" {
		t.Fatalf("steps after second resume: %v", steps)
	}
	if err := tl.Wait(api.TimeoutFrom(time.Second)); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestResumeFinished(t *testing.T) {
	tl := New("quick", func(*Threadlet) {})
	if _, err := tl.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if _, err := tl.Resume(); !errors.Is(err, api.ErrFinished) {
		t.Fatalf("resume after finish = %v, want ErrFinished", err)
	}
	if tl.Err() != nil {
		t.Fatalf("clean finish left err: %v", tl.Err())
	}
}

func TestSelfResumeRejected(t *testing.T) {
	var selfErr error
	tl := New("self", func(th *Threadlet) {
		_, selfErr = th.Resume()
	})
	if _, err := tl.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !errors.Is(selfErr, api.ErrInvalidArgument) {
		t.Fatalf("self resume = %v, want ErrInvalidArgument", selfErr)
	}
}

func TestPanicSurfacesAsError(t *testing.T) {
	tl := New("bomb", func(*Threadlet) {
		panic("kaboom")
	})
	st, err := tl.Resume()
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if st != StatusFinished {
		t.Fatalf("status after panic = %s", st)
	}
	perr := tl.Err()
	if !errors.Is(perr, api.ErrDeviceFailure) {
		t.Fatalf("panic error = %v, want ErrDeviceFailure", perr)
	}
	if !strings.Contains(perr.Error(), "kaboom") {
		t.Fatalf("panic payload lost: %v", perr)
	}
}

func TestYieldOutsideEntryRejected(t *testing.T) {
	tl := New("idle", func(*Threadlet) {})
	if err := tl.Yield(); !errors.Is(err, api.ErrInvalidArgument) {
		t.Fatalf("yield from outside = %v, want ErrInvalidArgument", err)
	}
}

func TestWaitTimeout(t *testing.T) {
	tl := New("pausing", func(th *Threadlet) {
		th.Yield()
	})
	if _, err := tl.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := tl.Wait(api.NoWait); !errors.Is(err, api.ErrTimeout) {
		t.Fatalf("nowait on live threadlet = %v, want ErrTimeout", err)
	}
	if err := tl.Wait(api.TimeoutFrom(10 * time.Millisecond)); !errors.Is(err, api.ErrTimeout) {
		t.Fatalf("bounded wait = %v, want ErrTimeout", err)
	}
	if _, err := tl.Resume(); err != nil {
		t.Fatalf("final resume: %v", err)
	}
	if err := tl.Wait(api.WaitForever); err != nil {
		t.Fatalf("wait after finish: %v", err)
	}
}

func TestBlockingHelpersNeedScheduler(t *testing.T) {
	other := New("other", nil)
	defer other.abandon()

	errs := map[string]error{}
	tl := New("bare", func(th *Threadlet) {
		errs["sleep"] = th.Sleep(time.Millisecond)
		_, errs["waitfd"] = th.WaitFD(0, api.EventReadable, api.WaitForever)
		errs["join"] = th.Join(other, api.NoWait)
	})
	if _, err := tl.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	for op, err := range errs {
		if !errors.Is(err, api.ErrInvalidArgument) {
			t.Errorf("%s without scheduler = %v, want ErrInvalidArgument", op, err)
		}
	}
}

func TestAbandonReleasesWithoutRunning(t *testing.T) {
	ran := false
	tl := New("doomed", func(*Threadlet) { ran = true })
	tl.abandon()
	select {
	case <-tl.Done():
	case <-time.After(time.Second):
		t.Fatal("abandoned threadlet never finished")
	}
	if ran {
		t.Fatal("abandoned entry ran")
	}
	if tl.Status() != StatusFinished {
		t.Fatalf("status = %s, want finished", tl.Status())
	}
	if !errors.Is(tl.Err(), api.ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", tl.Err())
	}
	if _, err := tl.Resume(); !errors.Is(err, api.ErrFinished) {
		t.Fatalf("resume after abandon = %v, want ErrFinished", err)
	}
}

func TestStatusString(t *testing.T) {
	cases := map[Status]string{
		StatusCreated:      "created",
		StatusRunning:      "running",
		StatusRunnable:     "runnable",
		StatusBlockedIO:    "blocked_io",
		StatusBlockedTimer: "blocked_timer",
		StatusFinished:     "finished",
		Status(99):         "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", s, got, want)
		}
	}
}
