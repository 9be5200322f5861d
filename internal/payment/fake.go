package payment

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Fake is an in-process gateway for development and tests. Intents start
// pending unless AutoSucceed is set; Settle moves them along.
type Fake struct {
	AutoSucceed bool

	mu      sync.Mutex
	intents map[string]Outcome
	err     error
}

// NewFake returns a gateway whose intents succeed immediately when autoSucceed
// is true.
func NewFake(autoSucceed bool) *Fake {
	return &Fake{AutoSucceed: autoSucceed, intents: map[string]Outcome{}}
}

func (f *Fake) CreateIntent(_ context.Context, amount int64, currency string, _ map[string]string) (Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Intent{}, f.err
	}
	ref := "pi_" + uuid.NewString()
	status := StatusPending
	if f.AutoSucceed {
		status = StatusSucceeded
	}
	f.intents[ref] = Outcome{Ref: ref, Status: status, Amount: amount, Currency: currency}
	return Intent{Ref: ref, ClientSecret: ref + "_secret", Amount: amount, Currency: currency}, nil
}

func (f *Fake) Lookup(_ context.Context, ref string) (Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Outcome{}, f.err
	}
	out, ok := f.intents[ref]
	if !ok {
		return Outcome{}, ErrUnknownIntent
	}
	return out, nil
}

// Settle records the final status of ref.
func (f *Fake) Settle(ref string, status Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.intents[ref]
	out.Ref = ref
	out.Status = status
	f.intents[ref] = out
}

// Fail makes every following call return err until cleared with nil.
func (f *Fake) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}
