package compress

import (
	"compress/gzip"
	"io"
	"net/http"
)

// GzipWriter implements http.ResponseWriter, compressing the body.
type GzipWriter struct {
	w           http.ResponseWriter
	zw          *gzip.Writer
	wroteHeader bool
}

// NewGzipWriter creates a new GzipWriter on top of w.
func NewGzipWriter(w http.ResponseWriter) *GzipWriter {
	return &GzipWriter{
		w:  w,
		zw: gzip.NewWriter(w),
	}
}

func (c *GzipWriter) Header() http.Header {
	return c.w.Header()
}

// Write compresses p into the response body.
func (c *GzipWriter) Write(p []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	return c.zw.Write(p)
}

// WriteHeader marks the response as gzip encoded.
func (c *GzipWriter) WriteHeader(statusCode int) {
	if c.wroteHeader {
		return
	}
	c.wroteHeader = true
	c.w.Header().Set("Content-Encoding", "gzip")
	c.w.Header().Del("Content-Length")
	c.w.WriteHeader(statusCode)
}

// Close flushes the gzip stream. Nothing is written for an empty response.
func (c *GzipWriter) Close() error {
	if !c.wroteHeader {
		return nil
	}
	return c.zw.Close()
}

// GzipReader implements io.ReadCloser for gzip-encoded request bodies.
type GzipReader struct {
	r  io.ReadCloser
	zr *gzip.Reader
}

// NewGzipReader creates a new GzipReader.
func NewGzipReader(r io.ReadCloser) (*GzipReader, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}

	return &GzipReader{
		r:  r,
		zr: zr,
	}, nil
}

// Read reads decompressed data.
func (c *GzipReader) Read(p []byte) (n int, err error) {
	return c.zr.Read(p)
}

// Close closes both the gzip reader and the underlying body.
func (c *GzipReader) Close() error {
	if err := c.r.Close(); err != nil {
		return err
	}
	return c.zr.Close()
}
