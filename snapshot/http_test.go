package snapshot_test

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/html2png/snapshot"
	"github.com/hazyhaar/html2png/snapshot/internal/store"
)

func serve(t *testing.T, s *snapshot.Snapper) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHTTP_CaptureReturnsImage(t *testing.T) {
	r := newRig(t, nil)
	srv := serve(t, r.snap)

	resp := post(t, srv.URL+"/v1/capture", `{"url":"http://example.com","width":120,"height":80}`)
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type = %q", ct)
	}
	if w := resp.Header.Get("X-Html2png-Width"); w != "120" {
		t.Errorf("width header = %q", w)
	}
	img, err := png.Decode(resp.Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Size() != image.Pt(120, 80) {
		t.Fatalf("size = %v", img.Bounds().Size())
	}
}

func TestHTTP_ErrorStatuses(t *testing.T) {
	r := newRig(t, nil)
	srv := serve(t, r.snap)

	cases := []struct {
		name, body string
		want       int
	}{
		{"bad json", `{"url":`, http.StatusBadRequest},
		{"no target", `{"url":"http://example.com"}`, http.StatusBadRequest},
		{"loopback", `{"url":"http://127.0.0.1/admin","body":true}`, http.StatusForbidden},
		{"metadata", `{"url":"http://169.254.169.254/","body":true}`, http.StatusForbidden},
		{"file scheme", `{"url":"file:///etc/passwd","body":true}`, http.StatusForbidden},
		{"missing marker", `{"url":"http://example.com","marker":"nope"}`, http.StatusUnprocessableEntity},
	}
	for _, c := range cases {
		resp := post(t, srv.URL+"/v1/capture", c.body)
		if resp.StatusCode != c.want {
			t.Errorf("%s: status = %d, want %d", c.name, resp.StatusCode, c.want)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s: content type = %q", c.name, ct)
		}
	}
}

func TestHTTP_Formats(t *testing.T) {
	r := newRig(t, nil)
	srv := serve(t, r.snap)

	resp, err := http.Get(srv.URL + "/v1/formats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var formats []snapshot.FormatInfo
	if err := json.NewDecoder(resp.Body).Decode(&formats); err != nil {
		t.Fatal(err)
	}
	if len(formats) != 6 {
		t.Fatalf("formats = %v", formats)
	}
	if formats[1].Name != "jpeg" || formats[1].Ext != ".jpg" || formats[1].ContentType != "image/jpeg" {
		t.Errorf("jpeg = %+v", formats[1])
	}
}

func TestHTTP_Healthz(t *testing.T) {
	r := newRig(t, nil)
	srv := serve(t, r.snap)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestHTTP_Jobs(t *testing.T) {
	r := newRig(t, nil, snapshot.WithStore(store.OpenMemory(t)))
	srv := serve(t, r.snap)
	body := `{"url":"http://example.com","body":true}`

	resp := post(t, srv.URL+"/v1/jobs", body)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("enqueue status = %d", resp.StatusCode)
	}
	var job snapshot.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatal(err)
	}
	if job.ID == "" || job.Status != snapshot.JobQueued {
		t.Fatalf("job = %+v", job)
	}

	again := post(t, srv.URL+"/v1/jobs", body)
	if again.StatusCode != http.StatusOK {
		t.Fatalf("duplicate status = %d", again.StatusCode)
	}
	var dup snapshot.Job
	json.NewDecoder(again.Body).Decode(&dup)
	if dup.ID != job.ID {
		t.Fatalf("duplicate created a new job: %s vs %s", dup.ID, job.ID)
	}

	got, err := http.Get(srv.URL + "/v1/jobs/" + job.ID)
	if err != nil {
		t.Fatal(err)
	}
	got.Body.Close()
	if got.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", got.StatusCode)
	}

	missing, err := http.Get(srv.URL + "/v1/jobs/does-not-exist")
	if err != nil {
		t.Fatal(err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing status = %d", missing.StatusCode)
	}

	list, err := http.Get(srv.URL + "/v1/jobs?status=queued")
	if err != nil {
		t.Fatal(err)
	}
	defer list.Body.Close()
	var jobs []snapshot.Job
	if err := json.NewDecoder(list.Body).Decode(&jobs); err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatalf("queued jobs = %d", len(jobs))
	}
}

func TestHTTP_JobsWithoutStore(t *testing.T) {
	r := newRig(t, nil)
	srv := serve(t, r.snap)

	resp := post(t, srv.URL+"/v1/jobs", `{"url":"http://example.com","body":true}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestHTTP_BodyLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.MaxBody = 64
	r := newRig(t, cfg)
	srv := serve(t, r.snap)

	big := `{"html":"` + strings.Repeat("x", 1024) + `","body":true}`
	resp, err := http.Post(srv.URL+"/v1/capture", "application/json", bytes.NewBufferString(big))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestHTTP_Runs(t *testing.T) {
	r := newRig(t, nil, snapshot.WithStore(store.OpenMemory(t)))
	srv := serve(t, r.snap)

	post(t, srv.URL+"/v1/capture", `{"url":"http://example.com","width":120,"height":80}`)

	resp, err := http.Get(srv.URL + "/v1/runs?limit=5")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var runs []snapshot.Run
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Transport != "http" || runs[0].RequestID == "" || runs[0].Status != store.RunOK {
		t.Fatalf("runs = %+v", runs)
	}
}
