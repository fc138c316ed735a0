package storage

import (
	"context"
	"io"
)

// progressReader reports read progress and stops at the first read after ctx is done.
// It never reports 100; that is left to complete once the sink has acknowledged.
type progressReader struct {
	ctx        context.Context
	reader     io.Reader
	total      int64
	read       int64
	last       int
	onProgress ProgressFunc
}

func newProgressReader(ctx context.Context, r io.Reader, total int64, onProgress ProgressFunc) *progressReader {
	return &progressReader{ctx: ctx, reader: r, total: total, last: -1, onProgress: onProgress}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}

	n, err := p.reader.Read(buf)
	if n > 0 {
		p.read += int64(n)
		p.report()
	}
	return n, err
}

func (p *progressReader) report() {
	if p.onProgress == nil || p.total <= 0 {
		return
	}
	percent := int(p.read * 100 / p.total)
	if percent > 99 {
		percent = 99
	}
	if percent > p.last {
		p.last = percent
		p.onProgress(percent)
	}
}

// BytesRead returns how many bytes passed through the reader
func (p *progressReader) BytesRead() int64 {
	return p.read
}

// complete reports 100 after the sink acknowledged the object
func (p *progressReader) complete() {
	if p.onProgress != nil && p.last < 100 {
		p.last = 100
		p.onProgress(100)
	}
}
