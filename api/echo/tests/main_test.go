package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	. "github.com/elimuhub/elimu/api/echo"
	"github.com/elimuhub/elimu/core"
	"github.com/elimuhub/elimu/core/catalog"
	"github.com/elimuhub/elimu/core/order"
	"github.com/elimuhub/elimu/core/sponsorship"
	"github.com/elimuhub/elimu/core/student"
	"github.com/elimuhub/elimu/core/user"
	emailsvc "github.com/elimuhub/elimu/services/email"
	dummydb "github.com/elimuhub/elimu/storage/database/dummy"
)

var (
	conf *core.Config
	app  *Server

	usrRepo user.Repository
	stdRepo student.Repository
	catRepo catalog.Repository

	stdSvc *student.Service
	ordSvc *order.Service
	spoSvc *sponsorship.Service

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
)

func TestMain(m *testing.M) {
	conf = &core.Config{
		TestMode:         true,
		AppName:          "Elimu",
		SecretKey:        "secret",
		DefaultFromEmail: "noreply@test.cd",
		Server: core.ServerConfig{
			JWTExpirationDelta:        1 * time.Hour,
			JWTRefreshExpirationDelta: 4 * time.Hour,
		},
	}

	// set up DB & repos
	db, err := dummydb.Open()
	if err != nil {
		os.Exit(1)
	}
	usrRepo = dummydb.NewUserRepository(db)
	stdRepo = dummydb.NewStudentRepository(db)
	catRepo = dummydb.NewCatalogRepository(db)

	// set up services
	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	usrSvc := user.NewService(usrRepo, mailSvc, conf)
	stdSvc = student.NewService(stdRepo)
	catSvc := catalog.NewService(catRepo)
	ordSvc = order.NewService(dummydb.NewOrderRepository(db), stdSvc, catSvc, mailSvc)
	spoSvc = sponsorship.NewService(dummydb.NewSponsorshipRepository(db), stdSvc, usrSvc, mailSvc)

	// set up validation
	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	student.InitValidators(validate, translator)

	// set up server
	app = NewServer(ServerDeps{
		Conf:           conf,
		Logger:         testLogger{},
		UserSvc:        usrSvc,
		StudentSvc:     stdSvc,
		CatalogSvc:     catSvc,
		OrderSvc:       ordSvc,
		SponsorshipSvc: spoSvc,
		Validate:       validate,
		Translator:     translator,
	})

	os.Exit(m.Run())
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

func testCtx() context.Context { return context.Background() }

type testLogger struct{}

func (testLogger) Debug(msg string, args ...interface{}) {}
func (testLogger) Info(msg string, args ...interface{})  {}
func (testLogger) Warn(msg string, args ...interface{})  {}
func (testLogger) Error(msg string, args ...interface{}) {}
func (testLogger) Fatal(msg string, args ...interface{}) {}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, usr user.User) string {
	claims := GetUserClaims(conf, usr)
	token, err := app.GenerateToken(claims)
	if err != nil {
		t.Fatalf("getToken(): %v", err)
	}
	return token
}

func createUser(t *testing.T, name, uname, pwd string, roles []string) user.User {
	t.Helper()
	now := time.Now().UTC()
	active := true
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     uname + "@test.cd",
		IsActive:  &active,
		Roles:     roles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser(): %v", err)
		}
	}
	usr, err := usrRepo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser(): %v", err)
	}
	return usr
}

func createStudent(t *testing.T, name, userID, status string, points int) student.Student {
	t.Helper()
	now := time.Now().UTC()
	st, err := stdRepo.CreateStudent(context.Background(), student.Student{
		Name:           name,
		Email:          name + "@test.cd",
		UserID:         userID,
		EducationLevel: student.LevelSecondary,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		t.Fatalf("createStudent(): %v", err)
	}
	if points > 0 {
		if st, err = stdSvc.Credit(context.Background(), st.ID, student.LedgerEntry{Amount: points}); err != nil {
			t.Fatalf("createStudent(): %v", err)
		}
	}
	return st
}

func createCatalogItem(t *testing.T, vendorID, name string, price int) catalog.Item {
	t.Helper()
	now := time.Now().UTC()
	it, err := catRepo.CreateItem(context.Background(), catalog.Item{
		VendorID:   vendorID,
		Name:       name,
		PointPrice: price,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		t.Fatalf("createCatalogItem(): %v", err)
	}
	return it
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj(): %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
