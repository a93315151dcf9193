package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "farebot/pkg/logx"
)

func openAll(t *testing.T) map[string]func() Store {
	t.Helper()
	dir := t.TempDir()
	open := func(cfg Config) func() Store {
		return func() Store {
			st, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("Open(%s): %v", cfg.Driver, err)
			}
			return st
		}
	}
	return map[string]func() Store{
		"memory": open(Config{Driver: "memory"}),
		"file":   open(Config{Driver: "file", Path: filepath.Join(dir, "subs.json")}),
		"sqlite": open(Config{Driver: "sqlite", Path: filepath.Join(dir, "subs.db"), BusyTimeout: time.Second}),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, open := range openAll(t) {
		name, open := name, open
		t.Run(name, func(t *testing.T) {
			st := open()
			defer st.Close()

			if _, ok, err := st.Get(ctx, 1); err != nil || ok {
				t.Fatalf("Get(unknown) = ok %v err %v", ok, err)
			}

			now := time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)
			rec := Record{UserID: 1, Origins: []string{"WMI", "KRK", "DUB"}, Active: true, CreatedAt: now, UpdatedAt: now}
			if err := st.Put(ctx, rec); err != nil {
				t.Fatalf("Put: %v", err)
			}
			// Mutating the caller's slice must not leak into the store.
			rec.Origins[0] = "XXX"

			got, ok, err := st.Get(ctx, 1)
			if err != nil || !ok {
				t.Fatalf("Get = ok %v err %v", ok, err)
			}
			if len(got.Origins) != 3 || got.Origins[0] != "WMI" || got.Origins[2] != "DUB" {
				t.Fatalf("origins = %v", got.Origins)
			}
			if !got.Active || !got.CreatedAt.Equal(now) {
				t.Fatalf("record = %+v", got)
			}

			got.Active = false
			got.Origins = got.Origins[1:]
			if err := st.Put(ctx, got); err != nil {
				t.Fatalf("Put update: %v", err)
			}
			if err := st.Put(ctx, Record{UserID: 2, Origins: []string{}, Active: true}); err != nil {
				t.Fatalf("Put second: %v", err)
			}

			list, err := st.List(ctx)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(list) != 2 || list[0].UserID != 1 || list[1].UserID != 2 {
				t.Fatalf("list = %+v", list)
			}
			if list[0].Active || len(list[0].Origins) != 2 || list[0].Origins[0] != "KRK" {
				t.Fatalf("updated record = %+v", list[0])
			}
		})
	}
}

func TestPersistentStoresSurviveReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	for _, cfg := range []Config{
		{Driver: "file", Path: filepath.Join(dir, "subs.json")},
		{Driver: "sqlite", Path: filepath.Join(dir, "subs.db")},
	} {
		st, err := Open(cfg, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%s): %v", cfg.Driver, err)
		}
		if err := st.Put(ctx, Record{UserID: 7, Origins: []string{"KRK"}, Active: true}); err != nil {
			t.Fatalf("%s Put: %v", cfg.Driver, err)
		}
		if err := st.Close(); err != nil {
			t.Fatalf("%s Close: %v", cfg.Driver, err)
		}

		st, err = Open(cfg, logx.Nop())
		if err != nil {
			t.Fatalf("reopen %s: %v", cfg.Driver, err)
		}
		got, ok, err := st.Get(ctx, 7)
		if err != nil || !ok || len(got.Origins) != 1 || got.Origins[0] != "KRK" {
			t.Fatalf("%s after reopen = %+v ok %v err %v", cfg.Driver, got, ok, err)
		}
		_ = st.Close()
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("err = %v, want ErrUnknownDriver", err)
	}
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatal("expected error for sqlite without path")
	}
}
