package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"golang.org/x/crypto/bcrypt"
)

func setupAuthEnv(t *testing.T, password string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	ENV.SECRET = "test secret"
	ENV.PASSWORD_HASH = string(hash)
	t.Cleanup(func() {
		ENV.SECRET = ""
		ENV.PASSWORD_HASH = ""
	})
}

func TestJWTGeneration(t *testing.T) {
	setupAuthEnv(t, "testing123")

	Convey("test basic claim creation", t, func() {
		ts, err := newJWT()
		So(ts, ShouldNotBeNil)
		So(err, ShouldBeNil)
	})
}

func TestLogin(t *testing.T) {
	setupAuthEnv(t, "testing123")

	login := func(password string) *httptest.ResponseRecorder {
		body, _ := json.Marshal(&LoginPayload{Password: password})
		req := httptest.NewRequest("POST", "/api/login", bytes.NewBuffer(body))
		req.Header.Add("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		http.HandlerFunc(Login).ServeHTTP(rr, req)
		return rr
	}

	Convey("Valid request works as expected", t, func() {
		rr := login("testing123")

		So(rr.Code, ShouldEqual, http.StatusOK)
		So(rr.Body.String(), ShouldContainSubstring, `"token":`)
	})

	Convey("Incorrect password provides 401", t, func() {
		rr := login("testing12")

		So(rr.Code, ShouldEqual, http.StatusUnauthorized)
	})

	Convey("Unconfigured auth refuses logins outright", t, func() {
		hash := ENV.PASSWORD_HASH
		ENV.PASSWORD_HASH = ""
		defer func() { ENV.PASSWORD_HASH = hash }()

		rr := login("testing123")

		So(rr.Code, ShouldEqual, http.StatusUnauthorized)
	})
}

func TestValidateJWT(t *testing.T) {
	setupAuthEnv(t, "testing123")

	guarded := ValidateJWT(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	Convey("A freshly issued token passes validation", t, func() {
		token, err := newJWT()
		So(err, ShouldBeNil)

		req := httptest.NewRequest("POST", "/api/send", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		guarded.ServeHTTP(rr, req)

		So(rr.Code, ShouldEqual, http.StatusNoContent)
	})

	Convey("The token can also ride a query parameter", t, func() {
		token, err := newJWT()
		So(err, ShouldBeNil)

		req := httptest.NewRequest("POST", "/api/send?jwt="+token, nil)
		rr := httptest.NewRecorder()
		guarded.ServeHTTP(rr, req)

		So(rr.Code, ShouldEqual, http.StatusNoContent)
	})

	Convey("A missing token provides 401", t, func() {
		req := httptest.NewRequest("POST", "/api/send", nil)
		rr := httptest.NewRecorder()
		guarded.ServeHTTP(rr, req)

		So(rr.Code, ShouldEqual, http.StatusUnauthorized)
	})

	Convey("A garbage token provides 401", t, func() {
		req := httptest.NewRequest("POST", "/api/send", nil)
		req.Header.Set("Authorization", "Bearer not.a.token")
		rr := httptest.NewRecorder()
		guarded.ServeHTTP(rr, req)

		So(rr.Code, ShouldEqual, http.StatusUnauthorized)
	})
}
