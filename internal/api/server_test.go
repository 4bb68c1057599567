package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tvandenberg/clubsync/internal/api"
	"github.com/tvandenberg/clubsync/internal/connectivity"
	"github.com/tvandenberg/clubsync/internal/feed"
	"github.com/tvandenberg/clubsync/internal/logging"
	"github.com/tvandenberg/clubsync/internal/model"
	"github.com/tvandenberg/clubsync/internal/queue"
	"github.com/tvandenberg/clubsync/internal/syncengine"
	"github.com/tvandenberg/clubsync/tests/testutil"
)

type fixture struct {
	server  *httptest.Server
	store   *testutil.FakeStore
	queue   *queue.Queue
	monitor *connectivity.Monitor
	engine  *syncengine.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := testutil.NewFakeStore()
	cacheStore := testutil.NewTestCache(t)
	monitor := connectivity.New(nil, 0)
	monitor.SetOnline(true)
	log := logging.New("error")

	q := queue.New(cacheStore)
	engine := syncengine.New(q, store, log, 0)
	ctrl := feed.NewController(store, cacheStore, monitor, log, 20)

	srv := api.NewServer(ctrl, q, engine, monitor, store, log)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	return &fixture{server: ts, store: store, queue: q, monitor: monitor, engine: engine}
}

func (f *fixture) postJSON(t *testing.T, path string, body any) (*http.Response, api.APIResponse) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling body: %v", err)
	}
	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()

	var decoded api.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return resp, decoded
}

func TestListNotifications(t *testing.T) {
	f := newFixture(t)

	base := time.Now().UTC()
	for i := 1; i <= 3; i++ {
		f.store.Notifications = append(f.store.Notifications, model.Notification{
			ID:        fmt.Sprintf("n%d", i),
			UserID:    "u1",
			CreatedAt: base.Add(-time.Duration(i) * time.Minute),
		})
	}

	resp, err := http.Get(f.server.URL + "/notifications/?user_id=u1&page=1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var decoded struct {
		Success bool                 `json:"success"`
		Data    []model.Notification `json:"data"`
		Meta    *api.Meta            `json:"meta"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if !decoded.Success || len(decoded.Data) != 3 {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
	if decoded.Meta == nil || decoded.Meta.Page != 1 {
		t.Fatalf("missing pagination meta: %+v", decoded.Meta)
	}
}

func TestListRequiresUserID(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/notifications/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestTrainingLogWrittenDirectlyWhenOnline(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.postJSON(t, "/training-logs/", model.TrainingLog{
		UserID:   "u1",
		Activity: "kata",
		Duration: 45,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	if len(f.store.TrainingLogs) != 1 {
		t.Fatalf("expected direct write, store has %d logs", len(f.store.TrainingLogs))
	}
	count, _ := f.queue.Count(context.Background())
	if count != 0 {
		t.Fatalf("expected nothing queued, got %d", count)
	}
}

func TestTrainingLogQueuedWhileOffline(t *testing.T) {
	f := newFixture(t)
	f.monitor.SetOnline(false)

	resp, _ := f.postJSON(t, "/training-logs/", model.TrainingLog{
		ID:       "x",
		UserID:   "u1",
		Activity: "randori",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	count, _ := f.queue.Count(context.Background())
	if count != 1 {
		t.Fatalf("expected 1 queued mutation, got %d", count)
	}

	// Connectivity returns: the monitor transition drains the queue.
	f.engine.AttachMonitor(f.monitor)
	f.monitor.SetOnline(true)

	deadline := time.Now().Add(2 * time.Second)
	for {
		count, _ := f.queue.Count(context.Background())
		if count == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("queue not drained after reconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ops := f.store.OpLog()
	if len(ops) != 1 || ops[0] != "training_log_add:x" {
		t.Fatalf("expected exactly one insert of x, got %v", ops)
	}
}

func TestSyncStatus(t *testing.T) {
	f := newFixture(t)
	f.monitor.SetOnline(false)

	if _, err := f.queue.Enqueue(context.Background(), model.OpTrainingLogAdd, model.TrainingLog{ID: "a"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	resp, err := http.Get(f.server.URL + "/sync/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var decoded struct {
		Data struct {
			Online  bool `json:"online"`
			Pending int  `json:"pending"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if decoded.Data.Online {
		t.Fatal("expected offline status")
	}
	if decoded.Data.Pending != 1 {
		t.Fatalf("expected 1 pending, got %d", decoded.Data.Pending)
	}
}

func TestRegisterDevice(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.postJSON(t, "/devices", model.DeviceSubscription{
		UserID:   "u1",
		Endpoint: "https://push.example.com/ep1",
		Platform: "web",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	if _, ok := f.store.Devices["https://push.example.com/ep1"]; !ok {
		t.Fatal("device subscription not upserted")
	}
}
