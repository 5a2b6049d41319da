package internal

import (
	"bytes"
	"context"
	"errors"
	"io"
)

type Repository interface {
	Write(ctx context.Context, path string, reader io.Reader) error
}

// Tee writes every payload to each repository in turn. The payload is
// buffered so every repository sees the same bytes.
type Tee []Repository

func (t Tee) Write(ctx context.Context, path string, reader io.Reader) error {
	if len(t) == 1 {
		return t[0].Write(ctx, path, reader)
	}
	bs, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	var errs []error
	for _, r := range t {
		if err := r.Write(ctx, path, bytes.NewReader(bs)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
