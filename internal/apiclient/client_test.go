package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"skysurvey-agent/internal/model"
)

func TestClient_LoginSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"token":"tok-1","user":{"_id":"u1","email":"a@x.com"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	resp, err := c.Login(context.Background(), "a@x.com", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.Token != "tok-1" || resp.User.ID != "u1" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestClient_LoginRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Invalid credentials"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.Login(context.Background(), "a@x.com", "bad")
	if !errors.Is(err, ErrAuthRejected) {
		t.Fatalf("expected ErrAuthRejected, got %v", err)
	}
}

func TestClient_SubmitAuthExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Token expired"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.SubmitSurvey(context.Background(), "stale-token", model.SurveyPayload{}, "", "")
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
}

func TestClient_SubmitForwardsReplayHeaders(t *testing.T) {
	var gotRef, gotDevice, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRef = r.Header.Get("X-Client-Ref")
		gotDevice = r.Header.Get("X-Device-Id")
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"_id":"s1"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	rec, err := c.SubmitSurvey(context.Background(), "tok", model.SurveyPayload{}, "op-1", "device-1")
	if err != nil {
		t.Fatalf("SubmitSurvey: %v", err)
	}
	if rec.ID != "s1" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if gotRef != "op-1" || gotDevice != "device-1" || gotAuth != "Bearer tok" {
		t.Fatalf("missing replay headers: ref=%q device=%q auth=%q", gotRef, gotDevice, gotAuth)
	}
}

func TestClient_ServerErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	if err := c.Health(context.Background()); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestClient_UnreachableIsTransport(t *testing.T) {
	c := New("http://127.0.0.1:1", 200*time.Millisecond)
	_, err := c.Login(context.Background(), "a@x.com", "pw")
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestClient_ValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"flightNumber is required"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.SubmitSurvey(context.Background(), "tok", model.SurveyPayload{}, "", "")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
