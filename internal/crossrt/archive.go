package crossrt

import (
	"bufio"
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/schollz/progressbar/v3"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
	"golang.org/x/sync/errgroup"
)

// ExtractPackage unpacks archivePath into a freshly emptied destDir. It runs
// rpm2cpio piped into cpio when both tools are available and falls back to
// the built-in RPM reader otherwise.
func ExtractPackage(ctx context.Context, execCtx *Executor, s *Settings, archivePath, destDir string) error {
	if err := os.RemoveAll(destDir); err != nil {
		return fmt.Errorf("%w: clearing %s: %v", ErrExtraction, destDir, err)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	rpm2cpio, err := exec.LookPath(s.Rpm2cpio)
	if err != nil {
		debugf("%s unavailable (%v); using built-in extractor\n", s.Rpm2cpio, err)
		return extractRPMNative(archivePath, destDir)
	}
	cpio, err := exec.LookPath(s.Cpio)
	if err != nil {
		debugf("%s unavailable (%v); using built-in extractor\n", s.Cpio, err)
		return extractRPMNative(archivePath, destDir)
	}

	return runExtractPipeline(ctx, execCtx, rpm2cpio, cpio, archivePath, destDir)
}

// errUpstreamFailed closes the pipe when rpm2cpio fails.
var errUpstreamFailed = errors.New("rpm2cpio failed")

// runExtractPipeline connects rpm2cpio's stdout to cpio's stdin. Both
// children are waited on; the first failure cancels the peer and is
// reported with the stage that produced it.
func runExtractPipeline(ctx context.Context, execCtx *Executor, rpm2cpio, cpio, archivePath, destDir string) error {
	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)
	e := execCtx.With(gctx)

	g.Go(func() error {
		err := runTool(e, exec.Command(rpm2cpio, archivePath), pw)
		if err != nil {
			pw.CloseWithError(errUpstreamFailed)
			return fmt.Errorf("%w: rpm2cpio stage: %w", ErrExtraction, err)
		}
		return pw.Close()
	})

	g.Go(func() error {
		cmd := exec.Command(cpio, "-idm")
		cmd.Dir = destDir
		cmd.Stdin = pr
		err := runTool(e, cmd, nil)
		if errors.Is(err, errUpstreamFailed) {
			// Reported by the rpm2cpio stage.
			return nil
		}
		if err != nil {
			pr.CloseWithError(err)
			return fmt.Errorf("%w: cpio stage: %w", ErrExtraction, err)
		}
		// Drain anything cpio left unread so the producer never blocks.
		_, _ = io.Copy(io.Discard, pr)
		return nil
	})

	return g.Wait()
}

// extractRPMNative unpacks an RPM without external tools.
func extractRPMNative(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	defer f.Close()

	var src io.Reader = bufio.NewReader(f)
	if isInteractive() {
		if info, statErr := f.Stat(); statErr == nil {
			bar := progressbar.NewOptions64(info.Size(),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetDescription("extracting "+filepath.Base(archivePath)),
				progressbar.OptionShowBytes(true),
				progressbar.OptionClearOnFinish(),
			)
			defer bar.Finish()
			src = bufio.NewReader(io.TeeReader(f, bar))
		}
	}

	hdr, err := readRPMHeaders(src)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrExtraction, filepath.Base(archivePath), err)
	}
	if hdr.PayloadFormat != "" && hdr.PayloadFormat != "cpio" {
		return fmt.Errorf("%w: unsupported payload format %q", ErrExtraction, hdr.PayloadFormat)
	}

	payload, err := decompressPayload(hdr.PayloadCompressor, src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	defer payload.Close()

	if err := extractCpio(payload, destDir); err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	debugf("extracted %s natively (%s payload)\n", archivePath, hdr.PayloadCompressor)
	return nil
}

// decompressPayload wraps r according to the RPM payload compressor tag.
func decompressPayload(compressor string, r io.Reader) (io.ReadCloser, error) {
	switch compressor {
	case "", "gzip":
		gz, err := pgzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gz, nil
	case "xz":
		xzr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create xz reader: %w", err)
		}
		return io.NopCloser(xzr), nil
	case "lzma":
		lr, err := lzma.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create lzma reader: %w", err)
		}
		return io.NopCloser(lr), nil
	case "zstd":
		zst, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		return zst.IOReadCloser(), nil
	case "bzip2":
		return io.NopCloser(bzip2.NewReader(r)), nil
	case "none", "identity":
		return io.NopCloser(r), nil
	default:
		return nil, fmt.Errorf("unsupported payload compressor %q", compressor)
	}
}
