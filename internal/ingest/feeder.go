package ingest

import (
	"context"
	"io"
)

// Feed copies every chunk of src into dst, writing each chunk fully before
// asking for the next. When src is exhausted dst is closed so the transcoder
// sees end of input. dst is also closed on failure. Feed returns the number
// of bytes written.
func Feed(ctx context.Context, src Source, dst io.WriteCloser) (int64, error) {
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			_ = dst.Close()
			return written, err
		}

		// Only the bare sentinel ends the input; a wrapped EOF is a failure.
		chunk, err := src.Next(ctx)
		if err == io.EOF { //nolint:errorlint // bare sentinel required
			if cerr := dst.Close(); cerr != nil {
				return written, newError(KindProcess, "close stdin", cerr)
			}
			return written, nil
		}
		if err != nil {
			_ = dst.Close()
			return written, err
		}

		n, werr := dst.Write(chunk)
		written += int64(n)
		if werr != nil {
			_ = dst.Close()
			return written, newError(KindProcess, "write stdin", werr)
		}
	}
}
