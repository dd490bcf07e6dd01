package util

import (
	"io"
	"net/http"
)

type FlushingWriter struct {
	w io.Writer
	f http.Flusher
}

func NewFlushingWriter(w io.Writer, flusher http.Flusher) *FlushingWriter {
	return &FlushingWriter{
		w: w,
		f: flusher,
	}
}

func (w *FlushingWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.f.Flush()
	return n, err
}
