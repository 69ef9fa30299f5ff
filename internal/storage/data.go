package storage

// Persistence

type WriteResult struct {
	path     string
	fileName string
	size     int64
}

func NewWriteResult(
	path string,
	fileName string,
	size int64,
) WriteResult {
	return WriteResult{
		path:     path,
		fileName: fileName,
		size:     size,
	}
}

func (w *WriteResult) Path() string {
	return w.path
}

func (w *WriteResult) FileName() string {
	return w.fileName
}

func (w *WriteResult) Size() int64 {
	return w.size
}
