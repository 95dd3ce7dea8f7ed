package enhance

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"photoner/internal/failures"
	"photoner/internal/logging"
)

// ExiftoolCopier copies metadata with exiftool.
type ExiftoolCopier struct {
	Binary string
	logger *slog.Logger
}

// NewExiftoolCopier returns a copier that runs binary (default "exiftool").
func NewExiftoolCopier(binary string, logger *slog.Logger) *ExiftoolCopier {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "exiftool"
	}
	return &ExiftoolCopier{Binary: binary, logger: logging.NewComponentLogger(logger, "metadata")}
}

// Copy implements MetadataCopier. A missing binary or a non-zero exit is a
// warning: the pixels are already written and the record notes the gap.
func (c *ExiftoolCopier) Copy(ctx context.Context, src, dst string) (string, error) {
	bin, err := exec.LookPath(c.Binary)
	if err != nil {
		return fmt.Sprintf("exiftool unavailable (%s): metadata not copied", c.Binary), nil
	}
	cmd := exec.CommandContext(ctx, bin, "-q", "-q", "-m", "-TagsFromFile", src, "-all:all", "-overwrite_original", dst)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", failures.Wrap(failures.ErrExternalTool, "metadata", "exiftool", "canceled", ctxErr)
		}
		detail := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && detail == "" {
			detail = exitErr.String()
		}
		if detail == "" {
			detail = err.Error()
		}
		c.logger.Debug("exiftool failed",
			logging.String("source", src),
			logging.String("stderr", detail),
		)
		return "metadata copy failed: " + firstLine(detail), nil
	}
	return "", nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}
