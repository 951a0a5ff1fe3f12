package store

import (
	"errors"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/wilhg/persistor/pkg/persistence"
)

type deposited struct {
	Amount int64 `json:"amount"`
}

func TestJSONCodecRegisteredType(t *testing.T) {
	c := NewJSONCodec().MustRegister("deposited", deposited{})
	manifest, data, err := c.Encode(&deposited{Amount: 7})
	if err != nil {
		t.Fatal(err)
	}
	if manifest != "deposited" {
		t.Fatalf("manifest=%q", manifest)
	}
	v, err := c.Decode(manifest, data)
	if err != nil {
		t.Fatal(err)
	}
	if d, ok := v.(deposited); !ok || d.Amount != 7 {
		t.Fatalf("decoded %#v", v)
	}
}

func TestJSONCodecUnknownTypes(t *testing.T) {
	c := NewJSONCodec()
	manifest, data, err := c.Encode(map[string]int{"a": 1})
	if err != nil {
		t.Fatal(err)
	}
	if manifest != "" {
		t.Fatalf("manifest=%q want empty", manifest)
	}
	v, err := c.Decode("", data)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := v.(json.RawMessage); !ok {
		t.Fatalf("type %T", v)
	}
	if _, err := c.Decode("missing", data); !errors.Is(err, ErrUnknownManifest) {
		t.Fatalf("err=%v", err)
	}
}

func TestJSONCodecRegisterConflict(t *testing.T) {
	c := NewJSONCodec().MustRegister("x", deposited{})
	if err := c.Register("x", 1); err == nil {
		t.Fatal("expected conflict")
	}
	if err := c.Register("", deposited{}); err == nil {
		t.Fatal("expected empty manifest error")
	}
}

func TestEventRecordRoundTrip(t *testing.T) {
	c := NewJSONCodec().MustRegister("deposited", deposited{})
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec, err := EncodeEvent(c, persistence.PersistentEvent{PersistenceID: "acc", SequenceNr: 3, Payload: deposited{Amount: 2}, Timestamp: ts})
	if err != nil {
		t.Fatal(err)
	}
	if rec.EventID == "" || rec.Seq != 3 || !rec.CreatedAt.Equal(ts) {
		t.Fatalf("rec=%+v", rec)
	}
	ev, err := DecodeEvent(c, rec)
	if err != nil {
		t.Fatal(err)
	}
	if ev.PersistenceID != "acc" || ev.SequenceNr != 3 || ev.Payload.(deposited).Amount != 2 {
		t.Fatalf("ev=%+v", ev)
	}
}
