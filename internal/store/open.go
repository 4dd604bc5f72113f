package store

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
)

// Options carries the connection settings of every backend.
type Options struct {
	DatabaseURL string
	SQLitePath  string
	Firebase    *firebase.App
}

// Open constructs the store named by backend: firestore, postgres, sqlite or memory.
func Open(ctx context.Context, backend string, opts Options) (Store, error) {
	switch backend {
	case "firestore":
		if opts.Firebase == nil {
			return nil, errors.New("store: firestore backend needs a firebase app")
		}
		return NewFirestore(ctx, opts.Firebase)
	case "postgres":
		return NewPostgres(ctx, opts.DatabaseURL)
	case "sqlite":
		return NewSQLite(ctx, opts.SQLitePath)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
