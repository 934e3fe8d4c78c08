package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "", 50, 0},
		{"valid_custom", "limit=25&offset=10", 25, 10},
		{"limit_over_1000_clamps", "limit=2000", 50, 0},
		{"limit_zero_clamps", "limit=0", 50, 0},
		{"negative_offset_clamps", "offset=-5", 50, 0},
		{"non_numeric_ignored", "limit=abc&offset=xyz", 50, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/?"+tt.query, nil)
			p := ParsePagination(req)
			if p.Limit != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", p.Limit, tt.wantLimit)
			}
			if p.Offset != tt.wantOffset {
				t.Errorf("Offset = %d, want %d", p.Offset, tt.wantOffset)
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusNotFound, "record not found")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Error != "record not found" {
		t.Errorf("error = %q", body.Error)
	}
}

func TestQueryStringList(t *testing.T) {
	req := httptest.NewRequest("GET", "/?types=job,%20save,,balance", nil)
	got := QueryStringList(req, "types")
	if strings.Join(got, "|") != "job|save|balance" {
		t.Errorf("got %v", got)
	}
	if QueryStringList(req, "missing") != nil {
		t.Error("missing param should yield nil")
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Run("valid_body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"x"}`))
		var v struct {
			Name string `json:"name"`
		}
		if err := DecodeJSON(req, &v); err != nil {
			t.Fatalf("DecodeJSON: %v", err)
		}
		if v.Name != "x" {
			t.Errorf("Name = %q", v.Name)
		}
	})

	t.Run("invalid_body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{broken`))
		var v map[string]any
		if err := DecodeJSON(req, &v); err == nil {
			t.Error("expected decode error")
		}
	})
}
