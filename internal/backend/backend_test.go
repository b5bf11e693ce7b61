package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bedready-go/internal/octoprint"
)

func newTestClient(t *testing.T, handler func(cmd map[string]any) (int, string)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var cmd map[string]any
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			t.Errorf("decode request: %v", err)
		}
		status, body := handler(cmd)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return New(octoprint.New(srv.URL, "", time.Second), "bedready")
}

func TestTakeSnapshotReturnsList(t *testing.T) {
	var sent map[string]any
	client := newTestClient(t, func(cmd map[string]any) (int, string) {
		sent = cmd
		return http.StatusOK, `["reference_a.jpg","reference_b.jpg"]`
	})

	res, err := client.TakeSnapshot(context.Background(), "reference_b.jpg", MaskOptions{Enabled: true, Points: "1,2 3,4 5,6"})
	if err != nil {
		t.Fatalf("TakeSnapshot: %v", err)
	}
	if res.Error != "" || len(res.Snapshots) != 2 {
		t.Fatalf("unexpected result %#v", res)
	}
	if sent["command"] != "take_snapshot" || sent["enable_mask"] != true || sent["mask_points"] != "1,2 3,4 5,6" {
		t.Fatalf("unexpected request %#v", sent)
	}
}

func TestTakeSnapshotApplicationError(t *testing.T) {
	client := newTestClient(t, func(map[string]any) (int, string) {
		return http.StatusOK, `{"error":"unable to download snapshot."}`
	})

	res, err := client.TakeSnapshot(context.Background(), "x.jpg", MaskOptions{})
	if err != nil {
		t.Fatalf("TakeSnapshot: %v", err)
	}
	if res.Error != "unable to download snapshot." {
		t.Fatalf("unexpected error field %q", res.Error)
	}
	if res.Snapshots != nil {
		t.Fatalf("expected no snapshots, got %#v", res.Snapshots)
	}
}

func TestCheckBedDecodesResult(t *testing.T) {
	client := newTestClient(t, func(cmd map[string]any) (int, string) {
		if cmd["reference"] != "ref.jpg" {
			t.Errorf("unexpected reference %v", cmd["reference"])
		}
		return http.StatusOK, `{"bed_clear":false,"similarity":0.9712,"reference_image":"ref.jpg","test_image":"comparison.jpg?20240101"}`
	})

	res, err := client.CheckBed(context.Background(), "ref.jpg", MaskOptions{})
	if err != nil {
		t.Fatalf("CheckBed: %v", err)
	}
	if res.Similarity != 0.9712 || res.TestImage != "comparison.jpg?20240101" {
		t.Fatalf("unexpected result %#v", res)
	}
	if res.BedClear == nil || *res.BedClear {
		t.Fatalf("expected bed_clear=false, got %v", res.BedClear)
	}
}

func TestDeleteSnapshotTransportError(t *testing.T) {
	client := newTestClient(t, func(map[string]any) (int, string) {
		return http.StatusInternalServerError, `{"error":"Path is not a file"}`
	})

	err := client.DeleteSnapshot(context.Background(), "missing.jpg")
	var apiErr *octoprint.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if octoprint.Message(err) != "Path is not a file" {
		t.Fatalf("unexpected message %q", octoprint.Message(err))
	}
}

func TestListSnapshotsEmpty(t *testing.T) {
	client := newTestClient(t, func(map[string]any) (int, string) {
		return http.StatusOK, `[]`
	})
	got, err := client.ListSnapshots(context.Background())
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", got)
	}
}

func TestTakeSnapshotEmptyBody(t *testing.T) {
	for _, body := range []string{"", "  \n"} {
		client := newTestClient(t, func(map[string]any) (int, string) {
			return http.StatusOK, body
		})
		_, err := client.TakeSnapshot(context.Background(), "x.jpg", MaskOptions{})
		if !errors.Is(err, ErrEmptyResponse) {
			t.Fatalf("body %q: expected ErrEmptyResponse, got %v", body, err)
		}
	}

	client := newTestClient(t, func(map[string]any) (int, string) {
		return http.StatusOK, `[]`
	})
	res, err := client.TakeSnapshot(context.Background(), "x.jpg", MaskOptions{})
	if err != nil || res.Snapshots == nil || len(res.Snapshots) != 0 {
		t.Fatalf("an empty list is a valid result, got %#v (%v)", res, err)
	}
}
