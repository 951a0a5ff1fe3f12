package main

import (
	"context"
	"log/slog"
	"strings"

	"github.com/wilhg/persistor/pkg/errmodel"
	"github.com/wilhg/persistor/pkg/store"
	"github.com/wilhg/persistor/pkg/store/badgerstore"
	"github.com/wilhg/persistor/pkg/store/entstore"
	"github.com/wilhg/persistor/pkg/store/memory"
)

// openStore picks the backend from the DSN scheme. SQL stores are migrated
// before they are returned.
func openStore(ctx context.Context, dsn string, codec store.Codec, logger *slog.Logger) (store.Store, error) {
	switch kind := storeKind(dsn); kind {
	case "memory":
		return memory.New(), nil
	case "badger":
		st, err := badgerstore.Open(strings.TrimPrefix(dsn, "badger:"),
			badgerstore.WithCodec(codec),
			badgerstore.WithLogger(logger))
		if err != nil {
			return nil, errmodel.Storage("store_open_failed", "open badger store", map[string]any{"kind": kind}, err)
		}
		return st, nil
	case "sql":
		st, err := entstore.Open(ctx, dsn, entstore.WithCodec(codec))
		if err != nil {
			return nil, errmodel.Storage("store_open_failed", "open sql store", map[string]any{"kind": kind}, err)
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, errmodel.Storage("store_migrate_failed", "migrate sql store", map[string]any{"kind": kind}, err)
		}
		return st, nil
	default:
		return nil, errmodel.Validation("unsupported_dsn", "unsupported store dsn", map[string]any{"dsn": dsn})
	}
}

func storeKind(dsn string) string {
	switch {
	case dsn == "memory:" || dsn == "":
		return "memory"
	case strings.HasPrefix(dsn, "badger:"):
		return "badger"
	case strings.HasPrefix(dsn, "sqlite:"), strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"), strings.Contains(dsn, "host="):
		return "sql"
	}
	return "unknown"
}
