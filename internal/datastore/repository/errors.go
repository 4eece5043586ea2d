package repository

import "github.com/xgstriker/bbd-server/internal/errors"

// Sentinel errors for repository operations.
var (
	// ErrTypeNotFound indicates the requested model type does not exist.
	ErrTypeNotFound = errors.NewStd("model type not found")

	// ErrImageNotFound indicates the requested image does not exist.
	ErrImageNotFound = errors.NewStd("image not found")

	// ErrStatusNotFound indicates a status title is not seeded.
	ErrStatusNotFound = errors.NewStd("status not found")

	// ErrRunNotFound indicates the requested training run does not exist.
	ErrRunNotFound = errors.NewStd("training run not found")

	// ErrInvalidInput indicates invalid input parameters.
	ErrInvalidInput = errors.NewStd("invalid input")
)

// maxBatchParams bounds the number of bound parameters per IN clause.
// SQLite's default limit is 999.
const maxBatchParams = 500

// chunkIDs splits ids into slices of at most size elements.
func chunkIDs(ids []uint, size int) [][]uint {
	if len(ids) == 0 {
		return nil
	}
	chunks := make([][]uint, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
