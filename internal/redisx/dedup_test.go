package redisx

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
)

func TestDeduper(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	d := &Deduper{Redis: db, Consumer: ConsumerWebhook}
	key := "dedup:webhook:evt_1"

	mock.ExpectExists(key).SetVal(0)
	mock.ExpectSet(key, "1", TTLDedup).SetVal("OK")
	mock.ExpectExists(key).SetVal(1)

	seen, err := d.Seen(ctx, "evt_1")
	if err != nil || seen {
		t.Fatalf("fresh event seen = %v, %v", seen, err)
	}
	if err := d.Mark(ctx, "evt_1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	seen, err = d.Seen(ctx, "evt_1")
	if err != nil || !seen {
		t.Fatalf("marked event seen = %v, %v", seen, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDeduper_RedisDown(t *testing.T) {
	db, mock := redismock.NewClientMock()
	d := &Deduper{Redis: db, Consumer: ConsumerNotifier}
	mock.ExpectExists("dedup:notifier:evt_1").SetErr(errors.New("connection refused"))
	mock.ExpectSet("dedup:notifier:evt_1", "1", TTLDedup).SetErr(errors.New("connection refused"))

	if _, err := d.Seen(context.Background(), "evt_1"); err == nil {
		t.Fatal("expected error from Seen")
	}
	if err := d.Mark(context.Background(), "evt_1"); err == nil {
		t.Fatal("expected error from Mark")
	}
}

func TestDeduper_Nil(t *testing.T) {
	var d *Deduper
	seen, err := d.Seen(context.Background(), "evt_1")
	if err != nil || seen {
		t.Fatalf("nil deduper must see nothing, got %v %v", seen, err)
	}
	if err := d.Mark(context.Background(), "evt_1"); err != nil {
		t.Fatalf("nil deduper mark: %v", err)
	}
}
