package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/tcthien/ada-wacg-compliance-sub012/internal/model"
	"github.com/tcthien/ada-wacg-compliance-sub012/internal/scanner"
)

type fakeAcknowledger struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.acked = true
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}

func delivery(t *testing.T, body []byte) (amqp.Delivery, *fakeAcknowledger) {
	t.Helper()
	ack := &fakeAcknowledger{}
	return amqp.Delivery{Acknowledger: ack, Body: body}, ack
}

func payload(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(model.JobPayload{ScanID: "scan-1", URL: "https://example.com"})
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func testConsumer() *Consumer {
	return &Consumer{logger: zap.NewNop().Sugar()}
}

func TestDispatchAcksSuccess(t *testing.T) {
	t.Parallel()

	d, ack := delivery(t, payload(t))
	var got model.JobPayload
	testConsumer().dispatch(context.Background(), d, func(ctx context.Context, job model.JobPayload) error {
		got = job
		return nil
	})

	if !ack.acked || ack.nacked {
		t.Errorf("acked=%v nacked=%v, want clean ack", ack.acked, ack.nacked)
	}
	if got.ScanID != "scan-1" {
		t.Errorf("decoded job = %+v", got)
	}
}

func TestDispatchDiscardsMalformedPayload(t *testing.T) {
	t.Parallel()

	d, ack := delivery(t, []byte("{not json"))
	called := false
	testConsumer().dispatch(context.Background(), d, func(ctx context.Context, job model.JobPayload) error {
		called = true
		return nil
	})

	if called {
		t.Error("handler must not run for a malformed payload")
	}
	if !ack.nacked || ack.requeue {
		t.Errorf("nacked=%v requeue=%v, want nack without requeue", ack.nacked, ack.requeue)
	}
}

func TestDispatchScanFailureNotRequeued(t *testing.T) {
	t.Parallel()

	d, ack := delivery(t, payload(t))
	scanErr := &scanner.ScanError{Kind: scanner.FailureTimeout, Err: errors.New("too slow")}
	testConsumer().dispatch(context.Background(), d, func(ctx context.Context, job model.JobPayload) error {
		return scanErr
	})

	if !ack.nacked || ack.requeue {
		t.Errorf("nacked=%v requeue=%v, want nack without requeue (terminal state already recorded)", ack.nacked, ack.requeue)
	}
}

func TestDispatchPersistenceFailureRequeued(t *testing.T) {
	t.Parallel()

	d, ack := delivery(t, payload(t))
	perr := &scanner.ScanError{Kind: scanner.FailurePersistence, Err: errors.New("db down")}
	testConsumer().dispatch(context.Background(), d, func(ctx context.Context, job model.JobPayload) error {
		return perr
	})

	if !ack.nacked || !ack.requeue {
		t.Errorf("nacked=%v requeue=%v, want nack with requeue", ack.nacked, ack.requeue)
	}
}

func TestDispatchUnclassifiedErrorNotRequeued(t *testing.T) {
	t.Parallel()

	d, ack := delivery(t, payload(t))
	testConsumer().dispatch(context.Background(), d, func(ctx context.Context, job model.JobPayload) error {
		return errors.New("something else")
	})

	if !ack.nacked || ack.requeue {
		t.Errorf("nacked=%v requeue=%v, want nack without requeue", ack.nacked, ack.requeue)
	}
}
