package browser

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hianidl/hianidl/internal/utils"
)

func TestBinaryCandidates(t *testing.T) {
	tests := []struct {
		goarch string
		first  string
	}{
		{"arm64", "chromium"},
		{"amd64", "google-chrome"},
		{"386", "google-chrome"},
	}
	for _, test := range tests {
		candidates := binaryCandidates(test.goarch)
		if len(candidates) == 0 {
			t.Fatalf("binaryCandidates(%q) returned no candidates", test.goarch)
		}
		if candidates[0] != test.first {
			t.Errorf("binaryCandidates(%q)[0] = %q, expected %q", test.goarch, candidates[0], test.first)
		}
	}
}

func TestSelectAlwaysIncludesPlainDriver(t *testing.T) {
	orig := lookPath
	lookPath = func(string) (string, error) { return "", errors.New("not found") }
	defer func() { lookPath = orig }()

	drivers := Select(utils.HTTPClientConfig{})
	if len(drivers) != 1 {
		t.Fatalf("Select() returned %d drivers with no browsers installed, expected 1", len(drivers))
	}
	if drivers[0].Name() != "http" {
		t.Errorf("fallback driver = %q, expected http", drivers[0].Name())
	}
}

func TestSelectPrefersBrowserWhenInstalled(t *testing.T) {
	orig := lookPath
	lookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }
	defer func() { lookPath = orig }()

	drivers := Select(utils.HTTPClientConfig{})
	if len(drivers) != 2 {
		t.Fatalf("Select() returned %d drivers, expected 2", len(drivers))
	}
	if drivers[0].Name() == "http" {
		t.Error("browser driver should be preferred over plain http")
	}
	if drivers[len(drivers)-1].Name() != "http" {
		t.Error("plain http driver should be the final fallback")
	}
}

func TestPlainDriverFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Referer") != "https://hiani.example/" {
			t.Errorf("missing referer header, got %q", r.Header.Get("Referer"))
		}
		w.Write([]byte("<html>player</html>"))
	}))
	defer server.Close()

	d := &plainDriver{cfg: utils.HTTPClientConfig{}}
	body, err := d.Fetch(context.Background(), server.URL, "https://hiani.example/")
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if string(body) != "<html>player</html>" {
		t.Errorf("Fetch() body = %q", body)
	}
}

func TestFetchFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	failing := &headlessDriver{binary: "chromium", path: "/nonexistent/chromium"}
	plain := &plainDriver{cfg: utils.HTTPClientConfig{}}
	body, driverName, err := Fetch(context.Background(), []Driver{failing, plain}, server.URL, "")
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if driverName != "http" {
		t.Errorf("Fetch() used driver %q, expected fallback to http", driverName)
	}
	if string(body) != "ok" {
		t.Errorf("Fetch() body = %q", body)
	}
}
