package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutormarket/internal/auth"
	"tutormarket/internal/lifecycle"
	"tutormarket/internal/messaging"
	"tutormarket/internal/metrics"
	"tutormarket/internal/model"
	"tutormarket/internal/payment"
	"tutormarket/internal/store/memory"
)

const (
	signingKey = "handler-test-key"
	issuer     = "tutormarket-test"
)

type api struct {
	t       *testing.T
	router  *gin.Engine
	st      *memory.Store
	tokens  map[string]string
	healthy error
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)

	a := &api{t: t, st: memory.New(), tokens: map[string]string{}}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	chat := messaging.NewGateway(a.st, messaging.NewMemoryBroadcaster(), messaging.WithMetrics(m))
	require.NoError(t, chat.Start(context.Background()))
	t.Cleanup(chat.Close)
	eng := lifecycle.New(a.st, payment.NewFake(true), lifecycle.WithNotifier(chat), lifecycle.WithMetrics(m))

	h := New(Config{
		Engine: eng,
		Chat:   chat,
		Auth: auth.Config{
			SigningKey:  signingKey,
			Issuer:      issuer,
			AdminEmails: []string{"root@x.com"},
			Syncer:      eng,
		},
		Checks: []Check{{Name: "store", Ping: func(ctx context.Context) error {
			if a.healthy != nil {
				return a.healthy
			}
			return a.st.Ping(ctx)
		}}},
		Gatherer:  reg,
		DevTokens: true,
	})
	a.router = gin.New()
	h.Register(a.router)

	for email, role := range map[string]model.Role{
		"stu@x.com":  model.RoleStudent,
		"tut@x.com":  model.RoleTutor,
		"tut2@x.com": model.RoleTutor,
		"root@x.com": model.RoleStudent,
	} {
		token, _, err := auth.Issue(model.User{ID: email, Name: email, Role: role}, issuer, signingKey, time.Hour)
		require.NoError(t, err)
		a.tokens[email] = token
	}
	return a
}

// do sends body as JSON on behalf of as and decodes the response into out.
func (a *api) do(as, method, path string, body any, out any) int {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != "" {
		req.Header.Set("Authorization", "Bearer "+a.tokens[as])
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	if out != nil && w.Body.Len() > 0 {
		require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w.Code
}

func (a *api) approvedTuition() model.Tuition {
	a.t.Helper()
	var tu model.Tuition
	require.Equal(a.t, http.StatusCreated, a.do("stu@x.com", http.MethodPost, "/api/tuitions",
		map[string]any{"subject": "Math", "location": "Dhaka", "salary": 6000}, &tu))
	require.Equal(a.t, http.StatusOK, a.do("root@x.com", http.MethodPatch, "/api/admin/tuitions/"+tu.ID,
		map[string]any{"decision": "approve"}, &tu))
	return tu
}

func (a *api) apply(tutor, tuitionID string) model.Application {
	a.t.Helper()
	var app model.Application
	require.Equal(a.t, http.StatusCreated, a.do(tutor, http.MethodPost, "/api/applications", map[string]any{
		"tuition_id":      tuitionID,
		"qualifications":  "BSc",
		"experience":      "2 years",
		"expected_salary": 5000,
	}, &app))
	return app
}

func TestRequiresBearer(t *testing.T) {
	a := newAPI(t)
	assert.Equal(t, http.StatusUnauthorized, a.do("", http.MethodGet, "/api/tuitions", nil, nil))
}

func TestHireFlowOverHTTP(t *testing.T) {
	a := newAPI(t)
	tu := a.approvedTuition()
	assert.Equal(t, model.TuitionApproved, tu.Status)

	app := a.apply("tut@x.com", tu.ID)
	var e errorBody
	assert.Equal(t, http.StatusConflict, a.do("tut@x.com", http.MethodPost, "/api/applications", map[string]any{
		"tuition_id": tu.ID, "qualifications": "BSc", "experience": "2 years", "expected_salary": 5000,
	}, &e))
	assert.Equal(t, "duplicate_application", e.Error)

	var intent struct {
		ClientSecret string        `json:"clientSecret"`
		Payment      model.Payment `json:"payment"`
	}
	require.Equal(t, http.StatusCreated, a.do("stu@x.com", http.MethodPost, "/api/create-payment-intent",
		map[string]any{"application_id": app.ID}, &intent))
	assert.NotEmpty(t, intent.ClientSecret)
	assert.Equal(t, model.PaymentPending, intent.Payment.Status)

	assert.Equal(t, http.StatusForbidden, a.do("tut@x.com", http.MethodPost, "/api/payments", map[string]any{
		"application_id": app.ID, "transaction_ref": intent.Payment.TransactionRef, "status": "success",
	}, nil))

	var hire lifecycle.Hire
	require.Equal(t, http.StatusCreated, a.do("stu@x.com", http.MethodPost, "/api/payments", map[string]any{
		"application_id": app.ID, "transaction_ref": intent.Payment.TransactionRef, "status": "success",
	}, &hire))
	assert.Equal(t, model.ApplicationApproved, hire.Application.Status)
	assert.Equal(t, int64(5000), hire.Payment.Amount)

	var again lifecycle.Hire
	require.Equal(t, http.StatusOK, a.do("stu@x.com", http.MethodPatch, "/api/applications/"+app.ID+"/approve", nil, &again))
	assert.Equal(t, hire.Conversation.ID, again.Conversation.ID)

	var ongoing []model.Application
	require.Equal(t, http.StatusOK, a.do("tut@x.com", http.MethodGet, "/api/tutor/ongoing", nil, &ongoing))
	assert.Len(t, ongoing, 1)

	var payments []model.Payment
	require.Equal(t, http.StatusOK, a.do("stu@x.com", http.MethodGet, "/api/student/payments", nil, &payments))
	require.Len(t, payments, 1)
	assert.Equal(t, model.PaymentSuccess, payments[0].Status)
	assert.Equal(t, http.StatusForbidden, a.do("stu@x.com", http.MethodGet, "/api/admin/payments", nil, nil))
	assert.Equal(t, http.StatusOK, a.do("root@x.com", http.MethodGet, "/api/admin/payments", nil, nil))

	start := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	var sess model.Session
	require.Equal(t, http.StatusCreated, a.do("tut@x.com", http.MethodPost, "/api/sessions", map[string]any{
		"application_id": app.ID, "start_time": start, "end_time": start.Add(time.Hour),
	}, &sess))
	assert.Equal(t, "Dhaka", sess.Location)

	assert.Equal(t, http.StatusBadRequest, a.do("tut@x.com", http.MethodPost, "/api/sessions", map[string]any{
		"application_id": app.ID, "start_time": start, "end_time": start.Add(-time.Hour),
	}, &e))
	assert.Equal(t, "invalid_range", e.Error)

	require.Equal(t, http.StatusOK, a.do("stu@x.com", http.MethodPatch, "/api/sessions/"+sess.ID,
		map[string]any{"status": "completed"}, &sess))
	assert.Equal(t, model.SessionCompleted, sess.Status)
	assert.Equal(t, http.StatusConflict, a.do("stu@x.com", http.MethodDelete, "/api/sessions/"+sess.ID, nil, nil))
}

func TestSecondHireConflicts(t *testing.T) {
	a := newAPI(t)
	tu := a.approvedTuition()
	first := a.apply("tut@x.com", tu.ID)
	second := a.apply("tut2@x.com", tu.ID)

	checkout := func(appID string) string {
		var intent struct {
			Payment model.Payment `json:"payment"`
		}
		require.Equal(t, http.StatusCreated, a.do("stu@x.com", http.MethodPost, "/api/create-payment-intent",
			map[string]any{"application_id": appID}, &intent))
		return intent.Payment.TransactionRef
	}
	ref1, ref2 := checkout(first.ID), checkout(second.ID)

	require.Equal(t, http.StatusCreated, a.do("stu@x.com", http.MethodPost, "/api/payments", map[string]any{
		"application_id": first.ID, "transaction_ref": ref1, "status": "success",
	}, nil))
	var e errorBody
	assert.Equal(t, http.StatusConflict, a.do("stu@x.com", http.MethodPost, "/api/payments", map[string]any{
		"application_id": second.ID, "transaction_ref": ref2, "status": "success",
	}, &e))
	assert.Equal(t, "tuition_already_hired", e.Error)
}

func TestValidationErrorsCarryFields(t *testing.T) {
	a := newAPI(t)
	var e errorBody
	require.Equal(t, http.StatusBadRequest, a.do("stu@x.com", http.MethodPost, "/api/tuitions",
		map[string]any{"subject": "", "location": "Dhaka", "salary": 0}, &e))
	assert.Equal(t, "validation_error", e.Error)
	require.NotEmpty(t, e.Fields)

	names := map[string]bool{}
	for _, f := range e.Fields {
		names[f.Field] = true
	}
	assert.True(t, names["subject"])
	assert.True(t, names["salary"])

	assert.Equal(t, http.StatusNotFound, a.do("stu@x.com", http.MethodGet, "/api/tuitions/missing", nil, &e))
	assert.Equal(t, "not_found", e.Error)
}

func TestMessagingOverHTTP(t *testing.T) {
	a := newAPI(t)
	tu := a.approvedTuition()
	a.apply("tut@x.com", tu.ID)

	var conv model.Conversation
	require.Equal(t, http.StatusOK, a.do("tut@x.com", http.MethodPost, "/api/conversations",
		map[string]any{"tuition_id": tu.ID, "participant_id": "stu@x.com"}, &conv))
	var same model.Conversation
	require.Equal(t, http.StatusOK, a.do("stu@x.com", http.MethodPost, "/api/conversations",
		map[string]any{"tuition_id": tu.ID, "participant_id": "tut@x.com"}, &same))
	assert.Equal(t, conv.ID, same.ID)

	var e errorBody
	assert.Equal(t, http.StatusBadRequest, a.do("stu@x.com", http.MethodPost, "/api/messages/"+conv.ID,
		map[string]any{"text": "  "}, &e))
	assert.Equal(t, "empty_message", e.Error)
	assert.Equal(t, http.StatusForbidden, a.do("tut2@x.com", http.MethodPost, "/api/messages/"+conv.ID,
		map[string]any{"text": "hi"}, nil))

	require.Equal(t, http.StatusCreated, a.do("stu@x.com", http.MethodPost, "/api/messages/"+conv.ID,
		map[string]any{"text": "hello"}, nil))

	var convs []model.Conversation
	require.Equal(t, http.StatusOK, a.do("tut@x.com", http.MethodGet, "/api/conversations", nil, &convs))
	require.Len(t, convs, 1)
	assert.Equal(t, 1, convs[0].TutorUnread)
	assert.Equal(t, "hello", convs[0].LastMessage)
	assert.Equal(t, http.StatusForbidden, a.do("tut@x.com", http.MethodGet, "/api/conversations/stu@x.com", nil, nil))

	require.Equal(t, http.StatusOK, a.do("tut@x.com", http.MethodPost, "/api/messages/"+conv.ID+"/read", nil, &conv))
	assert.Zero(t, conv.TutorUnread)

	var msgs []model.Message
	require.Equal(t, http.StatusOK, a.do("tut@x.com", http.MethodGet, "/api/messages/"+conv.ID, nil, &msgs))
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Read)
}

func TestHealthzAndDevToken(t *testing.T) {
	a := newAPI(t)
	assert.Equal(t, http.StatusOK, a.do("", http.MethodGet, "/healthz", nil, nil))
	a.healthy = errors.New("down")
	assert.Equal(t, http.StatusServiceUnavailable, a.do("", http.MethodGet, "/healthz", nil, nil))

	var tok struct {
		AccessToken string `json:"access_token"`
	}
	require.Equal(t, http.StatusCreated, a.do("", http.MethodPost, "/dev/token",
		map[string]any{"email": "new@x.com", "role": "tutor"}, &tok))
	claims, err := auth.Parse(tok.AccessToken, signingKey, issuer)
	require.NoError(t, err)
	assert.Equal(t, "new@x.com", claims.Email)

	assert.Equal(t, http.StatusBadRequest, a.do("", http.MethodPost, "/dev/token",
		map[string]any{"email": "new@x.com", "role": "system"}, nil))
	assert.Equal(t, http.StatusOK, a.do("", http.MethodGet, "/metrics", nil, nil))
}

func TestUserDirectoryAndRoles(t *testing.T) {
	a := newAPI(t)
	for _, who := range []string{"stu@x.com", "tut@x.com", "tut2@x.com", "root@x.com"} {
		require.Equal(t, http.StatusOK, a.do(who, http.MethodGet, "/api/tutors", nil, nil))
	}

	var tutors []model.User
	require.Equal(t, http.StatusOK, a.do("stu@x.com", http.MethodGet, "/api/tutors", nil, &tutors))
	assert.Len(t, tutors, 2)

	var profile lifecycle.TutorProfile
	require.Equal(t, http.StatusOK, a.do("stu@x.com", http.MethodGet, "/api/tutors/tut@x.com", nil, &profile))
	assert.Equal(t, "tut@x.com", profile.ID)
	assert.Zero(t, profile.Hires)
	assert.Equal(t, http.StatusNotFound, a.do("stu@x.com", http.MethodGet, "/api/tutors/stu@x.com", nil, nil))

	assert.Equal(t, http.StatusForbidden, a.do("stu@x.com", http.MethodGet, "/api/admin/users", nil, nil))
	var users []model.User
	require.Equal(t, http.StatusOK, a.do("root@x.com", http.MethodGet, "/api/admin/users", nil, &users))
	assert.Len(t, users, 4)

	var changed model.User
	require.Equal(t, http.StatusOK, a.do("root@x.com", http.MethodPatch, "/api/admin/users/tut2@x.com",
		map[string]any{"role": "student"}, &changed))
	assert.Equal(t, model.RoleStudent, changed.Role)

	// the stored role now outranks the tutor token
	var role struct {
		Role model.Role `json:"role"`
	}
	require.Equal(t, http.StatusOK, a.do("tut2@x.com", http.MethodGet, "/api/users/role/tut2@x.com", nil, &role))
	assert.Equal(t, model.RoleStudent, role.Role)
	require.Equal(t, http.StatusOK, a.do("stu@x.com", http.MethodGet, "/api/tutors", nil, &tutors))
	assert.Len(t, tutors, 1)

	var u model.User
	require.Equal(t, http.StatusOK, a.do("stu@x.com", http.MethodGet, "/api/users/TUT@x.com", nil, &u))
	assert.Equal(t, model.RoleTutor, u.Role)

	assert.Equal(t, http.StatusConflict, a.do("root@x.com", http.MethodPut, "/api/users/role/root@x.com",
		map[string]any{"role": "student"}, nil))
	assert.Equal(t, http.StatusBadRequest, a.do("root@x.com", http.MethodPut, "/api/users/role/tut@x.com",
		map[string]any{"role": "system"}, nil))
	assert.Equal(t, http.StatusForbidden, a.do("tut@x.com", http.MethodPut, "/api/users/role/stu@x.com",
		map[string]any{"role": "admin"}, nil))
	assert.Equal(t, http.StatusNotFound, a.do("root@x.com", http.MethodPatch, "/api/admin/users/ghost@x.com",
		map[string]any{"role": "tutor"}, nil))
}
