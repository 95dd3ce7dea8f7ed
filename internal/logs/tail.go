package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const (
	maxLineBytes = 1024 * 1024
	pollInterval = 250 * time.Millisecond
)

// TailOptions controls Tail. A negative Offset means "the last Limit lines";
// otherwise reading starts at Offset. With Follow set, Tail waits up to Wait
// for new lines when none are available yet.
type TailOptions struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
}

// TailResult carries the lines read and the offset to resume from.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail reads lines from path. A missing file yields an empty result, after
// waiting for it to appear when following.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	opts.Wait = max(opts.Wait, 0)
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		if opts.Follow && opts.Wait > 0 {
			return poll(ctx, path, 0, opts.Wait)
		}
		return TailResult{}, nil
	}
	if err != nil {
		return TailResult{}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return TailResult{}, fmt.Errorf("log path %q is a directory", path)
	}

	var res TailResult
	if opts.Offset < 0 {
		res, err = lastLines(path, opts.Limit)
	} else {
		offset := opts.Offset
		if offset > info.Size() {
			// Rotated or truncated underneath us.
			offset = 0
		}
		res, err = readFrom(path, offset)
	}
	if err != nil {
		return res, err
	}
	if len(res.Lines) == 0 && opts.Follow && opts.Wait > 0 {
		return poll(ctx, path, res.Offset, opts.Wait)
	}
	return res, nil
}

func lastLines(path string, limit int) (TailResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return TailResult{}, fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	var ring []string
	if limit > 0 {
		ring = make([]string, 0, limit)
		scanner := newScanner(f)
		for scanner.Scan() {
			if len(ring) == limit {
				copy(ring, ring[1:])
				ring = ring[:limit-1]
			}
			ring = append(ring, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return TailResult{}, fmt.Errorf("read log file: %w", err)
		}
	}
	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return TailResult{}, fmt.Errorf("seek log file: %w", err)
	}
	return TailResult{Lines: ring, Offset: end}, nil
}

func readFrom(path string, offset int64) (TailResult, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return TailResult{}, nil
	}
	if err != nil {
		return TailResult{Offset: offset}, fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return TailResult{Offset: offset}, fmt.Errorf("seek log file: %w", err)
	}
	// Only complete lines are consumed so a half-written record is picked up
	// whole on the next read.
	reader := bufio.NewReaderSize(f, 64*1024)
	res := TailResult{Offset: offset}
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return res, nil
			}
			return res, fmt.Errorf("read log file: %w", err)
		}
		res.Offset += int64(len(line))
		if len(line) > maxLineBytes {
			continue
		}
		res.Lines = append(res.Lines, trimNewline(line))
	}
}

func poll(ctx context.Context, path string, offset int64, wait time.Duration) (TailResult, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return TailResult{Offset: offset}, ctx.Err()
		case <-deadline.C:
			return TailResult{Offset: offset}, nil
		case <-ticker.C:
		}
		res, err := readFrom(path, offset)
		if err != nil {
			return res, err
		}
		if len(res.Lines) > 0 {
			return res, nil
		}
		offset = res.Offset
	}
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return scanner
}

func trimNewline(line string) string {
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
	}
	return line
}
