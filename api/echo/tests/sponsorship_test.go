package tests

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/elimuhub/elimu/core/sponsorship"
	"github.com/elimuhub/elimu/core/student"
	"github.com/elimuhub/elimu/core/user"
)

func Test_sponsorshipApi_lifecycle(t *testing.T) {
	donor := createUser(t, "Donor", "donor_spo", "", []string{user.RoleDonor})
	otherDonor := createUser(t, "Other Donor", "donor_oth", "", []string{user.RoleDonor})
	vendor := createUser(t, "Vendor", "vendor_spo", "", []string{user.RoleVendor})
	admin := createUser(t, "Admin", "admin_spo", "", user.AdminRoles)

	donorToken := getToken(t, donor)
	otherDonorToken := getToken(t, otherDonor)
	vendorToken := getToken(t, vendor)
	adminToken := getToken(t, admin)

	st := createStudent(t, "sponsored", "", student.StatusApproved, 0)

	newBody := marchallObj(t, map[string]interface{}{
		"donor_id":       "ignored", // donors are scoped to their own ID
		"student_id":     st.ID,
		"monthly_points": 500,
	})

	var sp sponsorship.Sponsorship

	t.Run("non-donor cannot create", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/sponsorships", vendorToken, newBody)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		}, rec)
	})

	t.Run("donor creates under own ID", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/sponsorships", donorToken, newBody)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create failed: %v %s", rec.Code, rec.Body.String())
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &sp); err != nil {
			t.Fatalf("unmarshalling sponsorship: %v", err)
		}
		if sp.DonorID != donor.ID {
			t.Errorf("DonorID = %v; want %v", sp.DonorID, donor.ID)
		}
		if sp.Status != sponsorship.StatusActive {
			t.Errorf("Status = %v; want active", sp.Status)
		}
	})

	t.Run("other donor cannot see it", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/sponsorships/"+sp.ID, otherDonorToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "not found"}),
		}, rec)
	})

	t.Run("opt-out requires a reason", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/sponsorships/"+sp.ID+"/opt-out", donorToken, []byte(`{}`))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"reason": "this field is required"}),
		}, rec)
	})

	t.Run("opt-out hides the student immediately", func(t *testing.T) {
		body := marchallObj(t, sponsorship.OptOutRequest{Reason: "budget cuts"})
		req, rec := newAuthRequest(http.MethodPost, "/v1/sponsorships/"+sp.ID+"/opt-out", donorToken, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("opt-out failed: %v %s", rec.Code, rec.Body.String())
		}

		// the opt-out response is already redacted
		var optedOut sponsorship.Sponsorship
		if err := json.Unmarshal(rec.Body.Bytes(), &optedOut); err != nil {
			t.Fatalf("unmarshalling sponsorship: %v", err)
		}
		if optedOut.StudentID != "" {
			t.Errorf("StudentID = %v; want redacted", optedOut.StudentID)
		}

		// the donor view no longer exposes the student
		req, rec = newAuthRequest(http.MethodGet, "/v1/sponsorships/"+sp.ID, donorToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("retrieve failed: %v %s", rec.Code, rec.Body.String())
		}
		var got sponsorship.Sponsorship
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("unmarshalling sponsorship: %v", err)
		}
		if !got.StudentHidden {
			t.Error("expected StudentHidden")
		}
		if got.StudentID != "" {
			t.Errorf("StudentID = %v; want redacted", got.StudentID)
		}
		if got.Status != sponsorship.StatusOptOutPending {
			t.Errorf("Status = %v; want opt-out-pending", got.Status)
		}
		if got.OptOutEffectiveAt.Sub(got.OptOutRequestedAt) < 28*24*time.Hour {
			t.Errorf("effective date %v too close to request date %v", got.OptOutEffectiveAt, got.OptOutRequestedAt)
		}
	})

	t.Run("double opt-out", func(t *testing.T) {
		body := marchallObj(t, sponsorship.OptOutRequest{Reason: "again"})
		req, rec := newAuthRequest(http.MethodPost, "/v1/sponsorships/"+sp.ID+"/opt-out", donorToken, body)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "invalid sponsorship state transition"}),
		}, rec)
	})

	t.Run("admin still sees the hidden student", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/sponsorships/"+sp.ID, adminToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("retrieve failed: %v %s", rec.Code, rec.Body.String())
		}
		var got sponsorship.Sponsorship
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("unmarshalling sponsorship: %v", err)
		}
		if !got.StudentHidden {
			t.Error("expected StudentHidden")
		}
		if got.StudentID != st.ID {
			t.Errorf("StudentID = %v; want %v", got.StudentID, st.ID)
		}
	})

	t.Run("cancel opt-out restores the sponsorship", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/sponsorships/"+sp.ID+"/cancel-opt-out", donorToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("cancel opt-out failed: %v %s", rec.Code, rec.Body.String())
		}
		var got sponsorship.Sponsorship
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("unmarshalling sponsorship: %v", err)
		}
		if got.Status != sponsorship.StatusActive {
			t.Errorf("Status = %v; want active", got.Status)
		}
		if got.StudentHidden {
			t.Error("expected StudentHidden to be cleared")
		}
	})

	t.Run("admin sees all sponsorships", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/sponsorships", adminToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("query failed: %v %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("donor query scoped to own", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/sponsorships", otherDonorToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusOK,
			wantData: []byte(`[]`),
		}, rec)
	})

	t.Run("pause and resume", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/sponsorships/"+sp.ID+"/pause", donorToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("pause failed: %v %s", rec.Code, rec.Body.String())
		}
		req, rec = newAuthRequest(http.MethodPost, "/v1/sponsorships/"+sp.ID+"/resume", donorToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("resume failed: %v %s", rec.Code, rec.Body.String())
		}
	})
}
