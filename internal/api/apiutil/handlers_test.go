package apiutil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/a-h/templ"
)

func TestDecodeJSONRejectsUnknownAndTrailing(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid", body: `{"name":"acme"}`},
		{name: "unknown_field", body: `{"name":"acme","extra":1}`, wantErr: true},
		{name: "trailing_value", body: `{"name":"acme"}{"name":"b"}`, wantErr: true},
		{name: "malformed", body: `{"name":`, wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(test.body))
			var dst struct {
				Name string `json:"name"`
			}
			err := DecodeJSON(r, &dst)
			if (err != nil) != test.wantErr {
				t.Fatalf("DecodeJSON() error = %v, wantErr %t", err, test.wantErr)
			}
		})
	}
}

func TestWriteErrorStatuses(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   ErrorResponse
	}{
		{
			name:       "handler_error",
			err:        HandlerError{Status: http.StatusNotFound, Message: "theme not found"},
			wantStatus: http.StatusNotFound,
			wantBody:   ErrorResponse{Error: "theme not found"},
		},
		{
			name:       "field_error",
			err:        FieldError{Field: "mode", Reason: "is invalid"},
			wantStatus: http.StatusBadRequest,
			wantBody:   ErrorResponse{Error: "mode is invalid", Field: "mode"},
		},
		{
			name:       "unknown_error",
			err:        errors.New("disk on fire"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   ErrorResponse{Error: "Internal Server Error"},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), test.err)
			if rec.Code != test.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, test.wantStatus)
			}
			var got ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if got != test.wantBody {
				t.Fatalf("body = %+v, want %+v", got, test.wantBody)
			}
		})
	}
}

func TestRenderHTMLComponent(t *testing.T) {
	ok := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<p>hi</p>")
		return err
	})
	rec := httptest.NewRecorder()
	if !RenderHTMLComponent(context.Background(), rec, ok, map[string]string{"HX-Trigger": "done"}, "log", "fail") {
		t.Fatalf("RenderHTMLComponent() = false")
	}
	if rec.Body.String() != "<p>hi</p>" || rec.Header().Get("HX-Trigger") != "done" {
		t.Fatalf("response = %q headers %v", rec.Body.String(), rec.Header())
	}

	broken := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, _ = io.WriteString(w, "partial")
		return errors.New("boom")
	})
	rec = httptest.NewRecorder()
	if RenderHTMLComponent(context.Background(), rec, broken, nil, "log", "fail") {
		t.Fatalf("RenderHTMLComponent() = true for failing component")
	}
	if rec.Code != http.StatusInternalServerError || strings.Contains(rec.Body.String(), "partial") {
		t.Fatalf("failed render response = %d %q", rec.Code, rec.Body.String())
	}
}
