package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutormarket/internal/lifecycle"
	"tutormarket/internal/model"
	"tutormarket/internal/payment"
	"tutormarket/internal/queue"
	"tutormarket/internal/store"
	"tutormarket/internal/store/memory"
)

type harness struct {
	st      *memory.Store
	gw      *payment.Fake
	q       *queue.InMemory
	jobs    <-chan queue.Job
	eng     *lifecycle.Engine
	worker  *Worker
	now     time.Time
	student model.User
	admin   model.User
}

func newHarness(t *testing.T, autoSucceed bool) *harness {
	t.Helper()
	h := &harness{
		st:      memory.New(),
		gw:      payment.NewFake(autoSucceed),
		q:       queue.NewInMemory(16),
		now:     time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		student: model.User{ID: "stu@x.com", Name: "Stu", Role: model.RoleStudent},
		admin:   model.User{ID: "admin@x.com", Role: model.RoleAdmin},
	}
	h.eng = lifecycle.New(h.st, h.gw,
		lifecycle.WithRetrier(NewRetrier(h.q)),
		lifecycle.WithClock(func() time.Time { return h.now }),
	)
	h.worker = NewWorker(h.eng, h.q, WithRetryPolicy(3, 0))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	jobs, err := h.q.Consume(ctx)
	require.NoError(t, err)
	h.jobs = jobs
	return h
}

// checkout returns an application of tutorID on a fresh or given tuition
// together with its pending payment ref.
func (h *harness) checkout(t *testing.T, tuitionID, tutorID string) (string, model.Application, string) {
	t.Helper()
	ctx := context.Background()
	if tuitionID == "" {
		tu, err := h.eng.CreateTuition(ctx, h.student, lifecycle.TuitionInput{Subject: "Chemistry", Location: "Sylhet", Salary: 4000})
		require.NoError(t, err)
		_, err = h.eng.ReviewTuition(ctx, h.admin, tu.ID, lifecycle.DecisionApprove)
		require.NoError(t, err)
		tuitionID = tu.ID
	}
	tutor := model.User{ID: tutorID, Name: tutorID, Role: model.RoleTutor}
	a, err := h.eng.SubmitApplication(ctx, tutor, lifecycle.ApplicationInput{
		TuitionID:      tuitionID,
		Qualifications: "BSc Chemistry",
		Experience:     "2 years",
		ExpectedSalary: 4000,
	})
	require.NoError(t, err)
	c, err := h.eng.InitiateHire(ctx, h.student, a.ID)
	require.NoError(t, err)
	return tuitionID, a, c.Payment.TransactionRef
}

func (h *harness) pop(t *testing.T) queue.Job {
	t.Helper()
	select {
	case job := <-h.jobs:
		return job
	case <-time.After(time.Second):
		t.Fatal("queue empty")
	}
	return queue.Job{}
}

func (h *harness) expectEmpty(t *testing.T) {
	t.Helper()
	select {
	case job := <-h.jobs:
		t.Fatalf("unexpected %s job", job.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPartialFailureIsFinishedByWorker(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	_, a, ref := h.checkout(t, "", "tut@x.com")

	h.st.FailOn("EnsureConversation", errors.New("connection reset"))
	_, err := h.eng.ConfirmPayment(ctx, h.student, a.ID, lifecycle.PaymentResult{TransactionRef: ref})
	require.Error(t, err)

	got, err := h.st.GetApplication(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ApplicationPending, got.Status)

	job := h.pop(t)
	assert.Equal(t, queue.TypeConfirmPayment, job.Type)
	require.NoError(t, h.worker.Process(ctx, job))

	got, err = h.st.GetApplication(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ApplicationApproved, got.Status)
	convs, err := h.st.ListConversations(ctx, h.student.ID)
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestLosingPaymentIsAbandoned(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	tuitionID, a1, ref1 := h.checkout(t, "", "tut@x.com")
	_, a2, ref2 := h.checkout(t, tuitionID, "tut2@x.com")

	_, err := h.eng.ConfirmPayment(ctx, h.student, a1.ID, lifecycle.PaymentResult{TransactionRef: ref1})
	require.NoError(t, err)

	require.NoError(t, NewRetrier(h.q).RetryConfirm(ctx, a2.ID, ref2))
	require.NoError(t, h.worker.Process(ctx, h.pop(t)))

	payments, err := h.st.ListPayments(ctx, store.PaymentFilter{ApplicationID: a2.ID})
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, model.PaymentFailed, payments[0].Status)
	h.expectEmpty(t)
}

func TestUnavailableGatewayIsRequeued(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	_, a, ref := h.checkout(t, "", "tut@x.com")

	h.gw.Fail(errors.New("gateway timeout"))
	require.NoError(t, NewRetrier(h.q).RetryConfirm(ctx, a.ID, ref))
	first := h.pop(t)
	assert.Error(t, h.worker.Process(ctx, first))

	second := h.pop(t)
	assert.Equal(t, 1, second.Attempt)

	second.Attempt = 2
	assert.Error(t, h.worker.Process(ctx, second))
	h.worker.wg.Wait()
	h.expectEmpty(t)

	h.gw.Fail(nil)
	second.Attempt = 0
	require.NoError(t, h.worker.Process(ctx, second))
}

func TestExpireJobFailsStalePayments(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	_, a, _ := h.checkout(t, "", "tut@x.com")

	h.now = h.now.Add(31 * time.Minute)
	job, err := queue.NewJob(queue.TypeExpirePayments, nil)
	require.NoError(t, err)
	require.NoError(t, h.worker.Process(ctx, job))

	payments, err := h.st.ListPayments(ctx, store.PaymentFilter{ApplicationID: a.ID})
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, model.PaymentFailed, payments[0].Status)
}

func TestUnknownJob(t *testing.T) {
	h := newHarness(t, true)
	assert.Error(t, h.worker.Process(context.Background(), queue.Job{Type: "bogus"}))
}

func TestRunStopsWithContext(t *testing.T) {
	h := &harness{q: queue.NewInMemory(1)}
	h.worker = NewWorker(nil, h.q)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.worker.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestSchedulerEnqueuesSweeps(t *testing.T) {
	q := queue.NewInMemory(4)
	s := NewScheduler(q, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	defer s.Stop()
	assert.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, 10*time.Millisecond)
}
