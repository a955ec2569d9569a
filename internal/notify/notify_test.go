package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"agilewatch/internal/rates"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testSeries(values ...float64) rates.Series {
	start := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	slots := make([]rates.Slot, len(values))
	for i, v := range values {
		from := start.Add(time.Duration(i) * 30 * time.Minute)
		slots[i] = rates.Slot{ValidFrom: from, ValidTo: from.Add(30 * time.Minute), Value: v}
	}
	return rates.MustSeries(slots)
}

func testChange() Change {
	date := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	return NewChange(rates.Tomorrow, date, testSeries(10, -2, 5, 20), date.Add(-7*time.Hour), 48)
}

func TestNewChange(t *testing.T) {
	c := testChange()
	if c.ID == "" {
		t.Fatal("change should carry an id")
	}
	if c.SlotCount != 4 || c.Complete {
		t.Fatalf("4 of 48 slots should be incomplete: %+v", c)
	}
	if c.Min != -2 || c.Max != 20 || c.Average != 8.25 {
		t.Fatalf("unexpected stats %+v", c)
	}
	if other := testChange(); other.ID == c.ID {
		t.Fatal("ids should be unique")
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/bottoken/sendMessage") {
			t.Errorf("path should target sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, time.UTC, testLogger())
	if err := notifier.NotifyChange(context.Background(), testChange()); err != nil {
		t.Fatalf("NotifyChange should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("unexpected chat_id: %#v", received)
	}
	text := received["text"]
	for _, want := range []string{"Slots: 4 (incomplete)", "Min: -2.00", "Average: 8.25", "Negative pricing"} {
		if !strings.Contains(text, want) {
			t.Fatalf("message missing %q:\n%s", want, text)
		}
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, time.UTC, testLogger())
	problem := NewProblem(ProblemAuth, rates.Today, time.Now(), errors.New("401"), time.Now())
	if err := notifier.NotifyProblem(context.Background(), problem); err == nil {
		t.Fatal("ok=false should be an error")
	}
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaNotifierKeyedByDate(t *testing.T) {
	w := &fakeWriter{}
	n := newKafkaNotifierWithWriter(w, "agile.rates", testLogger())
	if err := n.NotifyChange(context.Background(), testChange()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "2024-06-02" {
		t.Fatalf("unexpected key %q", msg.Key)
	}
	var env struct {
		Type    string `json:"type"`
		Payload Change `json:"payload"`
	}
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if env.Type != "rates.changed" || env.Payload.SlotCount != 4 || env.Payload.Bucket != rates.Tomorrow {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestKafkaNotifierWriteError(t *testing.T) {
	n := newKafkaNotifierWithWriter(&fakeWriter{err: errors.New("broker down")}, "t", testLogger())
	if err := n.NotifyChange(context.Background(), testChange()); err == nil {
		t.Fatal("writer error should propagate")
	}
}

func TestNewKafkaNotifierValidates(t *testing.T) {
	if _, err := NewKafkaNotifier(KafkaOptions{Topic: "t"}, testLogger()); err == nil {
		t.Fatal("missing brokers should fail")
	}
	if _, err := NewKafkaNotifier(KafkaOptions{Brokers: []string{"localhost:9092"}}, testLogger()); err == nil {
		t.Fatal("missing topic should fail")
	}
}

type countingNotifier struct {
	changes, problems int
	err               error
}

func (c *countingNotifier) NotifyChange(context.Context, Change) error {
	c.changes++
	return c.err
}

func (c *countingNotifier) NotifyProblem(context.Context, Problem) error {
	c.problems++
	return c.err
}

func TestMultiDeliversToAllAndJoinsErrors(t *testing.T) {
	a := &countingNotifier{err: errors.New("a failed")}
	b := &countingNotifier{}
	m := Multi{a, b, NewLogNotifier(testLogger())}
	if err := m.NotifyChange(context.Background(), testChange()); err == nil || !strings.Contains(err.Error(), "a failed") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if a.changes != 1 || b.changes != 1 {
		t.Fatal("every sink should be called despite earlier failures")
	}
	if err := (Multi{b}).NotifyProblem(context.Background(), Problem{}); err != nil || b.problems != 1 {
		t.Fatal("problem should be delivered")
	}
}
