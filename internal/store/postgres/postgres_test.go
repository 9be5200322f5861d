package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutormarket/internal/apperr"
	"tutormarket/internal/lifecycle"
	"tutormarket/internal/model"
	"tutormarket/internal/store"
)

func TestMapError(t *testing.T) {
	cases := map[string]struct {
		err  error
		want error
	}{
		"malformed id":      {&pgconn.PgError{Code: codeInvalidText}, apperr.ErrNotFound},
		"duplicate apply":   {&pgconn.PgError{Code: codeUniqueViolation, ConstraintName: "ux_applications_tuition_tutor"}, apperr.ErrDuplicateApplication},
		"second hire":       {&pgconn.PgError{Code: codeUniqueViolation, ConstraintName: "ux_applications_one_hire"}, apperr.ErrTuitionAlreadyHired},
		"second success":    {&pgconn.PgError{Code: codeUniqueViolation, ConstraintName: "ux_payments_one_success"}, apperr.ErrPreconditionFailed},
		"wrapped malformed": {fmt.Errorf("scan: %w", &pgconn.PgError{Code: codeInvalidText}), apperr.ErrNotFound},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, mapError("test", tc.err), tc.want)
		})
	}
	assert.NoError(t, mapError("test", nil))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(ctx))
	_, err = s.DB().ExecContext(ctx,
		`TRUNCATE messages, conversations, sessions, payments, applications, tuitions, users`)
	require.NoError(t, err)
	return s
}

func TestMigrationsApply(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// a second run finds nothing pending
	require.NoError(t, s.Migrate(ctx))

	var tables int
	require.NoError(t, s.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = current_schema()
		  AND table_name IN ('users', 'tuitions', 'applications', 'payments', 'sessions', 'conversations', 'messages')
	`).Scan(&tables))
	assert.Equal(t, 7, tables)
}

func TestMalformedIDIsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetTuition(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestConstraintViolationsMapToDomainErrors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tu := &model.Tuition{StudentID: "stu@x.com", Subject: "Math", Location: "Dhaka", Salary: 5000, Status: model.TuitionApproved}
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error { return tx.InsertTuition(ctx, tu) }))

	apps := make([]*model.Application, 2)
	for i := range apps {
		apps[i] = &model.Application{
			TuitionID:      tu.ID,
			StudentID:      tu.StudentID,
			TutorID:        fmt.Sprintf("tut%d@x.com", i),
			ExpectedSalary: 5000,
			Status:         model.ApplicationPending,
		}
		require.NoError(t, s.InTx(ctx, func(tx store.Tx) error { return tx.InsertApplication(ctx, apps[i]) }))
	}

	err := s.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertApplication(ctx, &model.Application{
			TuitionID: tu.ID, StudentID: tu.StudentID, TutorID: "tut0@x.com",
			ExpectedSalary: 4000, Status: model.ApplicationPending,
		})
	})
	assert.ErrorIs(t, err, apperr.ErrDuplicateApplication)

	err = s.InTx(ctx, func(tx store.Tx) error {
		for _, a := range apps {
			a.Status = model.ApplicationApproved
			if err := tx.UpdateApplication(ctx, *a); err != nil {
				return err
			}
		}
		return nil
	})
	assert.ErrorIs(t, err, apperr.ErrTuitionAlreadyHired)

	var ok bool
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		var err error
		_, ok, err = tx.ApprovedApplication(ctx, tu.ID)
		return err
	}))
	assert.False(t, ok, "failed transaction must not leave an approval behind")
}

func TestConcurrentConfirmsHireOneTutor(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	eng := lifecycle.New(s, nil)

	student := model.User{ID: "stu@x.com", Name: "Stu", Role: model.RoleStudent}
	admin := model.User{ID: "admin@x.com", Name: "Admin", Role: model.RoleAdmin}
	tu, err := eng.CreateTuition(ctx, student, lifecycle.TuitionInput{Subject: "Math", Location: "Dhaka", Salary: 6000})
	require.NoError(t, err)
	_, err = eng.ReviewTuition(ctx, admin, tu.ID, lifecycle.DecisionApprove)
	require.NoError(t, err)

	const tutors = 5
	appIDs := make([]string, tutors)
	for i := range appIDs {
		tutor := model.User{ID: fmt.Sprintf("tut%d@x.com", i), Name: "Tut", Role: model.RoleTutor}
		a, err := eng.SubmitApplication(ctx, tutor, lifecycle.ApplicationInput{
			TuitionID:      tu.ID,
			Qualifications: "BSc",
			Experience:     "2 years",
			ExpectedSalary: 6000,
		})
		require.NoError(t, err)
		appIDs[i] = a.ID
	}

	errs := make([]error, tutors)
	var wg sync.WaitGroup
	for i, id := range appIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = eng.ConfirmPayment(ctx, student, id, lifecycle.PaymentResult{
				TransactionRef: fmt.Sprintf("pi_%d", i),
				Amount:         6000,
			})
		}(i, id)
	}
	wg.Wait()

	hired := 0
	for _, err := range errs {
		if err == nil {
			hired++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrTuitionAlreadyHired)
	}
	assert.Equal(t, 1, hired)

	var approved, paid int
	require.NoError(t, s.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM applications WHERE tuition_id = $1 AND status = 'approved'`, tu.ID).Scan(&approved))
	require.NoError(t, s.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM payments WHERE tuition_id = $1 AND status = 'success'`, tu.ID).Scan(&paid))
	assert.Equal(t, 1, approved)
	assert.Equal(t, 1, paid)
}

func TestConcurrentEnsureConversationCreatesOneRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	triple := model.Conversation{
		TuitionID: "6f1c4c4e-8d0a-4c38-9d4e-0e7a5a3b2c10",
		StudentID: "stu@x.com",
		TutorID:   "tut@x.com",
	}

	const callers = 8
	ids := make([]string, callers)
	created := make([]bool, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.InTx(ctx, func(tx store.Tx) error {
				c, ok, err := tx.EnsureConversation(ctx, triple)
				ids[i], created[i] = c.ID, ok
				return err
			})
		}(i)
	}
	wg.Wait()

	creators := 0
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
		if created[i] {
			creators++
		}
	}
	assert.Equal(t, 1, creators)

	var rows int
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestUserRolesAndPendingPayments(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		if err := tx.UpsertUser(ctx, model.User{ID: "a@x.com", Name: "A", Role: model.RoleStudent}); err != nil {
			return err
		}
		if err := tx.UpsertUser(ctx, model.User{ID: "b@x.com", Name: "B", Role: model.RoleTutor}); err != nil {
			return err
		}
		return tx.SetUserRole(ctx, "a@x.com", model.RoleTutor)
	}))
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		return tx.UpsertUser(ctx, model.User{ID: "a@x.com", Name: "A2", Role: model.RoleStudent})
	}))

	u, err := s.GetUser(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, model.RoleTutor, u.Role)
	assert.Equal(t, "A2", u.Name)

	tutors, err := s.ListUsers(ctx, model.RoleTutor)
	require.NoError(t, err)
	require.Len(t, tutors, 2)
	assert.Equal(t, "a@x.com", tutors[0].ID)

	err = s.InTx(ctx, func(tx store.Tx) error { return tx.SetUserRole(ctx, "ghost@x.com", model.RoleAdmin) })
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	appID := "0b8e7f64-5a55-4f3f-9e0b-2f2f7a1d9c01"
	p := &model.Payment{
		ApplicationID:  appID,
		TuitionID:      "6f1c4c4e-8d0a-4c38-9d4e-0e7a5a3b2c10",
		StudentID:      "a@x.com",
		TutorID:        "b@x.com",
		Amount:         5000,
		Currency:       "bdt",
		TransactionRef: "pi_pending",
		Status:         model.PaymentPending,
	}
	var pending bool
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		var err error
		pending, err = tx.HasPendingPayment(ctx, appID)
		return err
	}))
	assert.True(t, pending)
}
