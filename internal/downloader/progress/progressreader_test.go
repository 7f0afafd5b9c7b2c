package progress

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain reads r in fixed-size chunks so the callback sequence is deterministic.
func drain(r io.Reader, chunk int) (int64, error) {
	buf := make([]byte, chunk)

	var total int64

	for {
		n, err := r.Read(buf)
		total += int64(n)

		if err == io.EOF {
			return total, nil
		}

		if err != nil {
			return total, err
		}
	}
}

func TestReader_ReportsOnIntervalAndEOF(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 1000)

	var reports []int64

	pr := NewReader(bytes.NewReader(data), -1, 300, func(read, _ int64) {
		reports = append(reports, read)
	})

	n, err := drain(pr, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), n)
	assert.Equal(t, int64(1000), pr.BytesRead())

	assert.Equal(t, []int64{300, 600, 900, 1000}, reports)
}

func TestReader_ReportsFirstFivePercent(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 1000)

	var reports []int64

	pr := NewReader(bytes.NewReader(data), 1000, 1<<20, func(read, total int64) {
		assert.Equal(t, int64(1000), total)
		reports = append(reports, read)
	})

	_, err := drain(pr, 10)
	require.NoError(t, err)

	assert.Equal(t, []int64{50, 1000}, reports)
}

func TestReader_NilCallback(t *testing.T) {
	pr := NewReader(bytes.NewReader([]byte("abc")), 3, 1, nil)

	assert.NotPanics(t, func() {
		_, _ = io.ReadAll(pr)
	})
}
