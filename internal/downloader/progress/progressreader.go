package progress

import "io"

// Reader wraps an io.Reader and reports progress via a callback every interval
// bytes, when 5% of a known total is crossed, and once at EOF.
type Reader struct {
	Reader     io.Reader
	Total      int64 // zero or negative when unknown
	OnProgress func(read int64, total int64)

	read       int64
	sinceLast  int64
	interval   int64
	reportedAt int64
}

func NewReader(r io.Reader, total int64, interval int64, cb func(read int64, total int64)) *Reader {
	return &Reader{
		Reader:     r,
		Total:      total,
		OnProgress: cb,
		interval:   interval,
		reportedAt: -1,
	}
}

// Read returns the number of bytes read so far through the wrapper.
func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		prev := pr.read
		pr.read += int64(n)
		pr.sinceLast += int64(n)

		crossedFirstTick := pr.Total > 0 && pr.read*100/pr.Total >= 5 && prev*100/pr.Total < 5
		if pr.sinceLast >= pr.interval || crossedFirstTick {
			pr.report()
		}
	}

	if err == io.EOF && pr.reportedAt != pr.read {
		pr.report()
	}

	return n, err
}

func (pr *Reader) BytesRead() int64 {
	return pr.read
}

func (pr *Reader) report() {
	pr.sinceLast = 0
	pr.reportedAt = pr.read

	if pr.OnProgress != nil {
		pr.OnProgress(pr.read, pr.Total)
	}
}
