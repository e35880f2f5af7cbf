package checkpoint

import (
	"context"
	"fmt"
)

// Router выбирает store по схеме ключа: s3:// в S3, остальное в DirStore.
type Router struct {
	// S3 — store для s3:// ключей. Nil — такие ключи отклоняются.
	S3 Store

	// Local — store для file:// ключей и путей. Nil — DirStore.
	Local Store
}

// Put передаёт запись подходящему store.
func (r *Router) Put(ctx context.Context, localPath, key, region string) error {
	scheme, _, err := splitKey(key)
	if err != nil {
		return err
	}
	switch scheme {
	case "s3":
		if r.S3 == nil {
			return fmt.Errorf("%w: %s: s3 store is not configured (set S3_ACCESS_KEY and S3_SECRET_KEY)", ErrInvalidKey, key)
		}
		return r.S3.Put(ctx, localPath, key, region)
	case "", "file":
		local := r.Local
		if local == nil {
			local = DirStore{}
		}
		return local.Put(ctx, localPath, key, region)
	default:
		return fmt.Errorf("%w: unsupported scheme %q in %s", ErrInvalidKey, scheme, key)
	}
}

// Remove удаляет объект через подходящий store. Store без Remove
// оставляет объект на месте.
func (r *Router) Remove(ctx context.Context, key, region string) error {
	scheme, _, err := splitKey(key)
	if err != nil {
		return err
	}
	var store Store
	switch scheme {
	case "s3":
		store = r.S3
	case "", "file":
		store = r.Local
		if store == nil {
			store = DirStore{}
		}
	}
	if rm, ok := store.(Remover); ok {
		return rm.Remove(ctx, key, region)
	}
	return nil
}

// IsRemote возвращает true для ключей, которые не являются локальными путями.
func IsRemote(key string) bool {
	scheme, _, err := splitKey(key)
	return err == nil && scheme != "" && scheme != "file"
}
