package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wilhg/persistor/examples/ledger"
	"github.com/wilhg/persistor/pkg/metrics"
	"github.com/wilhg/persistor/pkg/persistence"
	"github.com/wilhg/persistor/pkg/runtime"
	"github.com/wilhg/persistor/pkg/store/memory"
)

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New()
	reg := prometheus.NewRegistry()
	sys := runtime.NewSystem(st,
		runtime.WithSnapshotStore(st),
		runtime.WithLogger(logger),
		runtime.WithObserver(metrics.New(reg)),
	)
	srv := httptest.NewServer(newServer(sys, logger, reg, 2).routes())
	t.Cleanup(func() {
		srv.Close()
		_ = sys.Shutdown(context.Background())
	})
	return srv, st
}

func post(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	res, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	return res, b
}

func TestAccountLifecycle(t *testing.T) {
	srv, st := newTestServer(t)

	res, body := post(t, srv.URL+"/v1/accounts/acc-1/commands", `{"type":"deposit","amount":100}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("deposit status=%d body=%s", res.StatusCode, body)
	}
	if res.Header.Get("X-Request-ID") == "" {
		t.Fatal("missing request id")
	}
	res, body = post(t, srv.URL+"/v1/accounts/acc-1/commands", `{"type":"withdraw","amount":40}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("withdraw status=%d body=%s", res.StatusCode, body)
	}
	var bal ledger.Balance
	if err := json.Unmarshal(body, &bal); err != nil {
		t.Fatal(err)
	}
	if bal.Balance != 60 || bal.LastSeq != 2 || bal.ID != "acc-1" {
		t.Fatalf("balance: %+v", bal)
	}

	// snapshot every 2 events
	if _, ok, _ := st.Load(context.Background(), "acc-1", persistence.LatestSnapshot()); !ok {
		t.Fatal("expected automatic snapshot at seq 2")
	}

	getRes, err := http.Get(srv.URL + "/v1/accounts/acc-1")
	if err != nil {
		t.Fatal(err)
	}
	defer getRes.Body.Close()
	if getRes.StatusCode != http.StatusOK {
		t.Fatalf("get status=%d", getRes.StatusCode)
	}

	res, body = post(t, srv.URL+"/v1/accounts/acc-1/snapshot", ``)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("snapshot status=%d body=%s", res.StatusCode, body)
	}
}

func TestCommandErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	cases := []struct {
		body   string
		status int
		code   string
	}{
		{`{"type":"withdraw","amount":5}`, http.StatusBadRequest, "insufficient_funds"},
		{`{"type":"deposit","amount":0}`, http.StatusBadRequest, "invalid_amount"},
		{`{"type":"transfer","amount":5}`, http.StatusBadRequest, "unknown_command"},
		{`{not json`, http.StatusBadRequest, "bad_json"},
	}
	for _, tc := range cases {
		res, body := post(t, srv.URL+"/v1/accounts/acc-2/commands", tc.body)
		if res.StatusCode != tc.status {
			t.Fatalf("%s: status=%d want %d", tc.body, res.StatusCode, tc.status)
		}
		if !strings.Contains(string(body), `"code":"`+tc.code+`"`) {
			t.Fatalf("%s: body=%s", tc.body, body)
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)
	post(t, srv.URL+"/v1/accounts/acc-3/commands", `{"type":"deposit","amount":1}`)

	res, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	_ = res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("healthz status=%d", res.StatusCode)
	}

	res, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)
	for _, want := range []string{"persistor_journal_persisted_events_total 1", `persistor_recovery_total{outcome="completed"} 1`} {
		if !strings.Contains(string(b), want) {
			t.Fatalf("metrics missing %q:\n%s", want, b)
		}
	}
}
