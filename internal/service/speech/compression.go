package speech

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
)

// ErrUnsupportedCompression 压缩方法不在协议定义内
var ErrUnsupportedCompression = errors.New("speech: unsupported compression method")

// CompressPayload 按协议头声明的压缩方法压缩payload字节
func CompressPayload(data []byte, method CompressionMethod) ([]byte, error) {
	switch method {
	case NoCompression:
		return data, nil
	case GzipCompression:
		return gzipCompress(data)
	}
	return nil, fmt.Errorf("%w: %d", ErrUnsupportedCompression, method)
}

// DecompressPayload 按协议头声明的压缩方法还原payload字节
func DecompressPayload(data []byte, method CompressionMethod) ([]byte, error) {
	switch method {
	case NoCompression:
		return data, nil
	case GzipCompression:
		return gzipDecompress(data)
	}
	return nil, fmt.Errorf("%w: %d", ErrUnsupportedCompression, method)
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("gzip compress failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip compress failed: %w", err)
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip decompress failed: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip decompress failed: %w", err)
	}
	return out, nil
}
