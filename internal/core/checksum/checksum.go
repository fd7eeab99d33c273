package checksum

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Algorithm represents the hashing algorithm to use
type Algorithm string

const (
	// MD5 algorithm (faster but less secure, suitable for content comparison)
	MD5 Algorithm = "md5"
	// SHA256 algorithm (catalog default, 64 hex chars)
	SHA256 Algorithm = "sha256"
	// BLAKE3 algorithm (fast, 64 hex chars)
	BLAKE3 Algorithm = "blake3"
)

// Options configures the checksum calculator
type Options struct {
	// Algorithm used by HashFile
	// Default: sha256
	Algorithm Algorithm

	// MaxSize: files larger than this will not be checksummed (0 = unlimited)
	// Default: unlimited, catalog entries must always carry a hash
	MaxSize int64

	// BufferSize: size of buffer for streaming reads
	// Default: 64KB
	BufferSize int
}

// DefaultOptions returns the recommended default options
func DefaultOptions() Options {
	return Options{
		Algorithm:  SHA256,
		MaxSize:    0,
		BufferSize: 64 * 1024, // 64KB
	}
}

// Calculator computes content digests
type Calculator interface {
	// Calculate computes checksum from an io.Reader
	// Returns an error if size exceeds MaxSize or if context is cancelled
	Calculate(ctx context.Context, reader io.Reader, algo Algorithm) (string, error)
}

// DefaultCalculator implements Calculator with streaming support
type DefaultCalculator struct {
	opts Options

	// OnBytes, when set, is called with the number of bytes hashed per call
	OnBytes func(n int64)
}

// NewCalculator creates a new calculator with the given options
func NewCalculator(opts Options) *DefaultCalculator {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions().BufferSize
	}
	if opts.Algorithm == "" {
		opts.Algorithm = SHA256
	}
	return &DefaultCalculator{opts: opts}
}

// NewDefaultCalculator creates a calculator with default options
func NewDefaultCalculator() *DefaultCalculator {
	return NewCalculator(DefaultOptions())
}

// Algorithm returns the algorithm used by HashFile.
func (c *DefaultCalculator) Algorithm() Algorithm {
	return c.opts.Algorithm
}

func newHash(algo Algorithm) (hash.Hash, error) {
	switch algo {
	case MD5:
		return md5.New(), nil
	case SHA256:
		return sha256.New(), nil
	case BLAKE3:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", algo)
	}
}

// Calculate implements the Calculator interface
func (c *DefaultCalculator) Calculate(ctx context.Context, reader io.Reader, algo Algorithm) (string, error) {
	h, err := newHash(algo)
	if err != nil {
		return "", err
	}

	// Create a limited reader if MaxSize is set
	var limitedReader io.Reader = reader
	if c.opts.MaxSize > 0 {
		limitedReader = io.LimitReader(reader, c.opts.MaxSize+1)
	}

	// Stream the data through the hasher
	buffer := make([]byte, c.opts.BufferSize)
	totalBytes := int64(0)

	for {
		// Check context cancellation
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		// Read next chunk
		n, err := limitedReader.Read(buffer)
		if n > 0 {
			totalBytes += int64(n)

			// Check if we exceeded MaxSize
			if c.opts.MaxSize > 0 && totalBytes > c.opts.MaxSize {
				return "", fmt.Errorf("file size exceeds maximum (%d bytes)", c.opts.MaxSize)
			}

			// Write to hasher
			if _, hashErr := h.Write(buffer[:n]); hashErr != nil {
				return "", fmt.Errorf("hash write error: %w", hashErr)
			}
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read error: %w", err)
		}
	}

	if c.OnBytes != nil {
		c.OnBytes(totalBytes)
	}

	// Return hex-encoded hash
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile computes the digest of the file at path with the configured algorithm.
func (c *DefaultCalculator) HashFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return c.Calculate(ctx, f, c.opts.Algorithm)
}

// IsSupported checks if the given algorithm is supported
func IsSupported(algo Algorithm) bool {
	switch algo {
	case MD5, SHA256, BLAKE3:
		return true
	default:
		return false
	}
}
