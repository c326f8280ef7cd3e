package telephony

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FakeClient is an in-memory Client for tests and local runs without provider credentials.
// Failures are scripted per operation with Fail.
type FakeClient struct {
	mu sync.Mutex

	seq      int
	Placed   []CreateCallRequest
	Ended    []string
	Redirect map[string]string
	Recorded map[string]string
	Calls    map[string]int

	// failures are consumed in order per operation name.
	failures map[string][]error
	// Signature accepted by ValidateSignature. Empty accepts nothing.
	Signature string
	// Block makes operations wait for ctx, simulating a provider that never answers.
	Block bool
	// Delay makes operations succeed only after d, ignoring ctx.
	Delay time.Duration
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		Redirect: map[string]string{},
		Recorded: map[string]string{},
		Calls:    map[string]int{},
		failures: map[string][]error{},
	}
}

// Fail scripts the next calls of op ("create", "end", "redirect", "start_recording",
// "stop_recording") to return errs in order.
func (f *FakeClient) Fail(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], errs...)
}

func (f *FakeClient) enter(ctx context.Context, op string) error {
	f.mu.Lock()
	f.Calls[op]++
	block, delay := f.Block, f.Delay
	var err error
	if q := f.failures[op]; len(q) > 0 {
		err, f.failures[op] = q[0], q[1:]
	}
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

func (f *FakeClient) CreateCall(ctx context.Context, req CreateCallRequest) (string, error) {
	if err := f.enter(ctx, "create"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.Placed = append(f.Placed, req)
	return fmt.Sprintf("CA%032d", f.seq), nil
}

func (f *FakeClient) EndCall(ctx context.Context, providerCallID string) error {
	if err := f.enter(ctx, "end"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Ended = append(f.Ended, providerCallID)
	return nil
}

func (f *FakeClient) RedirectCall(ctx context.Context, providerCallID, twiml string) error {
	if err := f.enter(ctx, "redirect"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Redirect[providerCallID] = twiml
	return nil
}

func (f *FakeClient) StartRecording(ctx context.Context, providerCallID, _ string) (string, error) {
	if err := f.enter(ctx, "start_recording"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	rid := fmt.Sprintf("RE%032d", f.seq)
	f.Recorded[providerCallID] = rid
	return rid, nil
}

func (f *FakeClient) StopRecording(ctx context.Context, providerCallID string) (string, error) {
	if err := f.enter(ctx, "stop_recording"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Recorded[providerCallID], nil
}

func (f *FakeClient) ValidateSignature(_ string, _ map[string]string, signature string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Signature != "" && signature == f.Signature
}

// Count returns how many times op was invoked.
func (f *FakeClient) Count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[op]
}

// PlacedCalls returns a copy of every placed call request.
func (f *FakeClient) PlacedCalls() []CreateCallRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CreateCallRequest(nil), f.Placed...)
}

// EndedCalls returns a copy of every provider call id hung up.
func (f *FakeClient) EndedCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Ended...)
}
