package describe

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/narrate/internal/cache"
	"golang.org/x/sync/singleflight"
)

// ImageDescriber describes a prepared image.
type ImageDescriber interface {
	DescribeImage(ctx context.Context, img Image) (string, error)
}

// Store holds finished descriptions.
type Store interface {
	Get(key string) ([]byte, bool)
	Put(key string, value []byte) error
}

// Cached serves repeated photos from a Store and merges concurrent requests
// for the same photo into one model call. Failures are not cached.
type Cached struct {
	next   ImageDescriber
	store  Store
	label  string
	lang   string
	maxDim int
	logger *log.Logger
	group  singleflight.Group
}

// NewCached wraps next. label and lang become part of the cache key, so
// switching model or language asks again.
func NewCached(next ImageDescriber, store Store, label, lang string, maxDim int, logger *log.Logger) *Cached {
	if logger == nil {
		logger = log.Default().WithPrefix("describe")
	}
	return &Cached{next: next, store: store, label: label, lang: lang, maxDim: maxDim, logger: logger}
}

// Describe implements Provider.
func (c *Cached) Describe(ctx context.Context, path string) (string, error) {
	img, err := LoadImage(path, c.maxDim)
	if err != nil {
		return "", err
	}
	key := cache.Key(img.Digest, c.label, c.lang)

	if data, ok := c.store.Get(key); ok {
		c.logger.Debug("Description cache hit", "image", path)
		return string(data), nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		text, err := c.next.DescribeImage(ctx, img)
		if err != nil {
			return "", err
		}
		if err := c.store.Put(key, []byte(text)); err != nil {
			c.logger.Warn("Could not cache description", "err", err)
		}
		return text, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			c.logger.Debug("Shared in-flight description", "image", path)
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
