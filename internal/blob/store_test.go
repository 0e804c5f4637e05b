package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

func contractStores(t *testing.T) map[string]Store {
	t.Helper()
	fsStore, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("filesystem: %v", err)
	}
	return map[string]Store{
		"memory": NewMemory(),
		"fs":     fsStore,
		"s3":     NewMockS3ForTests(),
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	payload := []byte("\x89PNG\r\n\x1a\nlabel")
	for name, store := range contractStores(t) {
		t.Run(name, func(t *testing.T) {
			key := "qr_codes/qr_MJ_001.png"
			if _, err := store.Head(ctx, key); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected not found before put, got %v", err)
			}
			info, err := store.Put(ctx, key, bytes.NewReader(payload), PutOptions{ContentType: "image/png"})
			if err != nil {
				t.Fatalf("put: %v", err)
			}
			if info.Key != key {
				t.Fatalf("unexpected key %s", info.Key)
			}
			if _, err := store.Put(ctx, key, bytes.NewReader(payload), PutOptions{}); !errors.Is(err, ErrExists) {
				t.Fatalf("expected create-only put, got %v", err)
			}
			_, rc, err := store.Get(ctx, key)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			got, err := io.ReadAll(rc)
			_ = rc.Close()
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Fatalf("payload mismatch: %q", got)
			}
			list, err := store.List(ctx, "qr_codes/")
			if err != nil || len(list) != 1 {
				t.Fatalf("list: %v %+v", err, list)
			}
			removed, err := store.Delete(ctx, key)
			if err != nil || !removed {
				t.Fatalf("delete: %v removed=%v", err, removed)
			}
			removed, err = store.Delete(ctx, key)
			if err != nil || removed {
				t.Fatalf("second delete: %v removed=%v", err, removed)
			}
			if _, _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected not found after delete, got %v", err)
			}
		})
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	mem, err := Open(ctx, Config{Driver: "memory"})
	if err != nil || mem.Driver() != DriverMemory {
		t.Fatalf("expected memory driver: %v", err)
	}
	fsStore, err := Open(ctx, Config{FSRoot: t.TempDir()})
	if err != nil || fsStore.Driver() != DriverFilesystem {
		t.Fatalf("expected default fs driver: %v", err)
	}
	if _, err := Open(ctx, Config{Driver: "s3"}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
	if _, err := Open(ctx, Config{Driver: "ftp"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestPresignURL(t *testing.T) {
	ctx := context.Background()
	if _, err := NewMemory().PresignURL(ctx, "k", SignedURLOptions{}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected unsupported for memory, got %v", err)
	}
	fsStore, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("filesystem: %v", err)
	}
	url, err := fsStore.PresignURL(ctx, "qr_codes/qr_FJ_001.png", SignedURLOptions{})
	if err != nil || url != "/media/qr_codes/qr_FJ_001.png" {
		t.Fatalf("unexpected fs url %q: %v", url, err)
	}
	if _, err := fsStore.PresignURL(ctx, "k", SignedURLOptions{Method: "PUT"}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected unsupported PUT, got %v", err)
	}
}
