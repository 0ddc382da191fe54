package tests

import (
	"net/http"
	"testing"

	"github.com/elimuhub/elimu/core/student"
	"github.com/elimuhub/elimu/core/user"
)

func Test_studentApi_apply(t *testing.T) {
	usr := createUser(t, "Applicant", "applicant1", "", []string{user.RoleStudent})
	token := getToken(t, usr)

	tests := []httpTest{
		{
			name:     "missing fields",
			body:     []byte(`{}`),
			token:    token,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{
				"name":            "this field is required",
				"education_level": "this field is required",
			}),
		},
		{
			name:     "bad education level",
			body:     marchallObj(t, map[string]string{"name": "Awa", "education_level": "phd"}),
			token:    token,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"education_level": "invalid education level"}),
		},
		{
			name:     "ok",
			body:     marchallObj(t, map[string]interface{}{"name": "Awa", "education_level": "primary", "user_id": usr.ID}),
			token:    token,
			wantCode: http.StatusCreated,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, "/v1/students", tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_studentApi_adminOps(t *testing.T) {
	admin := createUser(t, "Admin", "admin_st", "", user.AdminRoles)
	plain := createUser(t, "Plain", "plain_st", "", []string{user.RoleStudent})
	adminToken := getToken(t, admin)
	plainToken := getToken(t, plain)

	st := createStudent(t, "pendingkid", "", student.StatusPending, 0)

	t.Run("approve requires admin", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/students/"+st.ID+"/approve", plainToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		}, rec)
	})

	t.Run("approve", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/students/"+st.ID+"/approve", adminToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("approve failed: %v %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("credit requires admin", func(t *testing.T) {
		body := marchallObj(t, student.LedgerEntry{Amount: 100})
		req, rec := newAuthRequest(http.MethodPost, "/v1/students/"+st.ID+"/credit", plainToken, body)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		}, rec)
	})

	t.Run("credit", func(t *testing.T) {
		body := marchallObj(t, student.LedgerEntry{Amount: 100, Category: "donation"})
		req, rec := newAuthRequest(http.MethodPost, "/v1/students/"+st.ID+"/credit", adminToken, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("credit failed: %v %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("invest requires admin", func(t *testing.T) {
		body := marchallObj(t, student.LedgerEntry{Amount: 60})
		req, rec := newAuthRequest(http.MethodPost, "/v1/students/"+st.ID+"/invest", plainToken, body)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		}, rec)
	})

	t.Run("insure requires admin", func(t *testing.T) {
		body := marchallObj(t, student.LedgerEntry{Amount: 60})
		req, rec := newAuthRequest(http.MethodPost, "/v1/students/"+st.ID+"/insure", plainToken, body)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		}, rec)
	})

	t.Run("invest", func(t *testing.T) {
		body := marchallObj(t, student.LedgerEntry{Amount: 60, Category: "savings"})
		req, rec := newAuthRequest(http.MethodPost, "/v1/students/"+st.ID+"/invest", adminToken, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("invest failed: %v %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("debit beyond balance", func(t *testing.T) {
		body := marchallObj(t, student.LedgerEntry{Amount: 1000})
		req, rec := newAuthRequest(http.MethodPost, "/v1/students/"+st.ID+"/debit", adminToken, body)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "insufficient points"}),
		}, rec)
	})

	t.Run("ledger check", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/students/"+st.ID+"/ledger-check", adminToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusOK,
			wantData: marchallObj(t, map[string]bool{"consistent": true}),
		}, rec)
	})

	t.Run("unknown student", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/students/nope", adminToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "student not found"}),
		}, rec)
	})
}
