package services_test

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"mediadump/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrArchive, "archive", "write", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrArchive) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"archive", "write", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	empty := services.Wrap(services.ErrEmptyManifest, "pipeline", "validate", "no references", nil)
	if status := services.HTTPStatus(empty); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty manifest, got %d", status)
	}
	if code := services.ErrorCode(empty); code != "empty_manifest" {
		t.Fatalf("unexpected code %q", code)
	}

	invalid := services.Wrap(services.ErrInvalidManifest, "manifest", "decode", "bad json", nil)
	if status := services.HTTPStatus(invalid); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid manifest, got %d", status)
	}

	ws := services.Wrap(services.ErrWorkspace, "workspace", "allocate", "mkdir", errors.New("denied"))
	if status := services.HTTPStatus(ws); status != http.StatusInternalServerError {
		t.Fatalf("expected 500 for workspace error, got %d", status)
	}
	if code := services.ErrorCode(ws); code != "workspace_error" {
		t.Fatalf("unexpected code %q", code)
	}

	arch := services.Wrap(services.ErrArchive, "archive", "create", "", nil)
	if code := services.ErrorCode(arch); code != "archive_error" {
		t.Fatalf("unexpected code %q", code)
	}

	stalled := services.Wrap(services.ErrFetch, "fetch", "download", "url",
		services.Wrap(services.ErrTimeout, "fetch", "download", "no progress", nil))
	if code := services.ErrorCode(stalled); code != "timeout" {
		t.Fatalf("expected timeout code to win over fetch failure, got %q", code)
	}
	if code := services.ErrorCode(services.Wrap(services.ErrFetch, "fetch", "download", "404", nil)); code != "fetch_failure" {
		t.Fatalf("unexpected code %q", code)
	}
	cfgErr := services.Wrap(services.ErrConfiguration, "config", "validate", "", errors.New("fetch.attempts must be positive"))
	if code := services.ErrorCode(cfgErr); code != "configuration_error" {
		t.Fatalf("unexpected code %q", code)
	}

	if status := services.HTTPStatus(nil); status != http.StatusOK {
		t.Fatalf("expected 200 for nil error, got %d", status)
	}
	if code := services.ErrorCode(errors.New("other")); code != "internal" {
		t.Fatalf("unexpected code for unknown error %q", code)
	}
}
