package utils

import (
	"bytes"
	"encoding/base64"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// Pooled writers at the default level. Values include multi-megabyte map bundles.
var writerPool = sync.Pool{
	New: func() interface{} {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.DefaultCompression)
		return w
	},
}

// PackValue gzips a cache value and returns it base64 encoded for BoltDB.
func PackValue(value string) (string, error) {
	var buf bytes.Buffer
	zw := writerPool.Get().(*gzip.Writer)
	defer writerPool.Put(zw)
	zw.Reset(&buf)

	if _, err := io.WriteString(zw, value); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return EncodeBase64(buf.Bytes()), nil
}

// UnpackValue reverses PackValue.
func UnpackValue(packed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(packed)
	if err != nil {
		return "", err
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	defer zr.Close()

	var out bytes.Buffer
	if _, err := out.ReadFrom(zr); err != nil {
		return "", err
	}
	return out.String(), nil
}

// EncodeBase64 returns the standard base64 form of a binary payload.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
