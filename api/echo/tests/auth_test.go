package tests

import (
	"encoding/json"
	"net/http"
	"testing"
)

func Test_userApi_login(t *testing.T) {
	usr := createUser(t, "Login User", "loginusr", "LocalHer0!", nil)
	inactive := createUser(t, "Ghost", "ghostusr", "LocalHer0!", nil)
	off := false
	inactive.IsActive = &off
	if _, err := usrRepo.UpdateUser(testCtx(), inactive); err != nil {
		t.Fatalf("deactivating user: %v", err)
	}

	tests := []httpTest{
		{
			name:     "empty payload",
			body:     []byte(`{}`),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{
				"username": "this field is required",
				"password": "this field is required",
			}),
		},
		{
			name:     "unknown user",
			body:     marchallObj(t, map[string]string{"username": "whodis", "password": "LocalHer0!"}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name:     "wrong password",
			body:     marchallObj(t, map[string]string{"username": usr.Username, "password": "nope"}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name:     "deactivated account",
			body:     marchallObj(t, map[string]string{"username": inactive.Username, "password": "LocalHer0!"}),
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{
			name:     "login by username",
			body:     marchallObj(t, map[string]string{"username": usr.Username, "password": "LocalHer0!"}),
			wantCode: http.StatusOK,
		},
		{
			name:     "login by email",
			body:     marchallObj(t, map[string]string{"username": usr.Email, "password": "LocalHer0!"}),
			wantCode: http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/v1/users/login", tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)

			if tt.wantCode == http.StatusOK {
				var resp struct {
					Token string `json:"token"`
				}
				if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
					t.Fatalf("unmarshalling response: %v", err)
				}
				if resp.Token == "" {
					t.Error("expected a token")
				}
			}
		})
	}
}

func Test_api_authRequired(t *testing.T) {
	paths := []struct{ method, path string }{
		{http.MethodGet, "/v1/students"},
		{http.MethodPost, "/v1/purchase-orders"},
		{http.MethodGet, "/v1/sponsorships"},
		{http.MethodGet, "/v1/users"},
	}
	for _, p := range paths {
		req, rec := newRequest(p.method, p.path)
		app.ServeHTTP(rec, req)
		tt := httpTest{wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)}
		checkCodeAndData(t, tt, rec)
	}
}
