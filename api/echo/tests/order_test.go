package tests

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/elimuhub/elimu/core/order"
	"github.com/elimuhub/elimu/core/student"
	"github.com/elimuhub/elimu/core/user"
)

func Test_orderApi_lifecycle(t *testing.T) {
	admin := createUser(t, "Admin", "admin_ord", "", user.AdminRoles)
	vendor := createUser(t, "Vendor", "vendor_ord", "", []string{user.RoleVendor})
	otherVendor := createUser(t, "Other Vendor", "vendor_oth", "", []string{user.RoleVendor})
	stdUsr := createUser(t, "Student", "student_ord", "", []string{user.RoleStudent})

	adminToken := getToken(t, admin)
	vendorToken := getToken(t, vendor)
	otherVendorToken := getToken(t, otherVendor)
	stdToken := getToken(t, stdUsr)

	st := createStudent(t, "buyer", stdUsr.ID, student.StatusApproved, 5000)
	it := createCatalogItem(t, vendor.ID, "School bag", 1000)

	newOrderBody := func(qty int) []byte {
		return marchallObj(t, map[string]interface{}{
			"student_id":      "ignored", // students are scoped to their own record
			"delivery_method": "pickup",
			"items":           []map[string]interface{}{{"catalog_item_id": it.ID, "quantity": qty}},
		})
	}

	var ord order.Order

	t.Run("student creates own order", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/purchase-orders", stdToken, newOrderBody(2))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create failed: %v %s", rec.Code, rec.Body.String())
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &ord); err != nil {
			t.Fatalf("unmarshalling order: %v", err)
		}
		if ord.StudentID != st.ID {
			t.Errorf("StudentID = %v; want %v", ord.StudentID, st.ID)
		}
		if ord.TotalPoints != 2000 {
			t.Errorf("TotalPoints = %v; want 2000", ord.TotalPoints)
		}
	})

	t.Run("order exceeding balance", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/purchase-orders", stdToken, newOrderBody(6))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "insufficient points"}),
		}, rec)
	})

	t.Run("vendor cannot approve", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/purchase-orders/"+ord.ID+"/approve", vendorToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		}, rec)
	})

	t.Run("fulfill before approval", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/purchase-orders/"+ord.ID+"/fulfill", vendorToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "invalid order state transition"}),
		}, rec)
	})

	t.Run("admin approves", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/purchase-orders/"+ord.ID+"/approve", adminToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("approve failed: %v %s", rec.Code, rec.Body.String())
		}
		var got order.Order
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("unmarshalling order: %v", err)
		}
		if got.ApprovedBy != admin.ID {
			t.Errorf("ApprovedBy = %v; want %v", got.ApprovedBy, admin.ID)
		}
	})

	t.Run("other vendor cannot fulfill", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/purchase-orders/"+ord.ID+"/fulfill", otherVendorToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		}, rec)
	})

	t.Run("vendor fulfills", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/purchase-orders/"+ord.ID+"/fulfill", vendorToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("fulfill failed: %v %s", rec.Code, rec.Body.String())
		}

		got, err := stdSvc.GetByID(testCtx(), st.ID)
		if err != nil {
			t.Fatalf("getting student: %v", err)
		}
		if got.AvailablePoints != 3000 {
			t.Errorf("AvailablePoints = %v; want 3000", got.AvailablePoints)
		}
		if got.ReservedPoints != 0 {
			t.Errorf("ReservedPoints = %v; want 0", got.ReservedPoints)
		}
	})

	t.Run("student queries own orders", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/purchase-orders", stdToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("query failed: %v %s", rec.Code, rec.Body.String())
		}
		var got []order.Order
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("unmarshalling orders: %v", err)
		}
		for _, o := range got {
			if o.StudentID != st.ID {
				t.Errorf("got someone else's order %v", o.ID)
			}
		}
	})

	t.Run("student cancels own pending order", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/purchase-orders", stdToken, newOrderBody(1))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create failed: %v %s", rec.Code, rec.Body.String())
		}
		var pending order.Order
		if err := json.Unmarshal(rec.Body.Bytes(), &pending); err != nil {
			t.Fatalf("unmarshalling order: %v", err)
		}

		// another student's user cannot cancel it
		thief := createUser(t, "Thief", "student_thief", "", []string{user.RoleStudent})
		createStudent(t, "thiefkid", thief.ID, student.StatusApproved, 0)
		req, rec = newAuthRequest(http.MethodPost, "/v1/purchase-orders/"+pending.ID+"/cancel", getToken(t, thief))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		}, rec)

		req, rec = newAuthRequest(http.MethodPost, "/v1/purchase-orders/"+pending.ID+"/cancel", stdToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("cancel failed: %v %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("reject requires a reason", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/purchase-orders", stdToken, newOrderBody(1))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create failed: %v %s", rec.Code, rec.Body.String())
		}
		var pending order.Order
		if err := json.Unmarshal(rec.Body.Bytes(), &pending); err != nil {
			t.Fatalf("unmarshalling order: %v", err)
		}

		req, rec = newAuthRequest(http.MethodPost, "/v1/purchase-orders/"+pending.ID+"/reject", adminToken, []byte(`{}`))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"reason": "this field is required"}),
		}, rec)

		body := marchallObj(t, order.RejectOrder{Reason: "out of stock"})
		req, rec = newAuthRequest(http.MethodPost, "/v1/purchase-orders/"+pending.ID+"/reject", adminToken, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("reject failed: %v %s", rec.Code, rec.Body.String())
		}
	})
}
