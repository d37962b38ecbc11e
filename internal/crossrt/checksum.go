package crossrt

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"lukechampine.com/blake3"
)

// symlinkChecksum is recorded for symbolic links instead of a digest.
const symlinkChecksum = "000000"

// check if b3sum is installed on system
func hasB3sum() bool {
	_, err := exec.LookPath("b3sum")
	return err == nil
}

// ComputeChecksums returns the BLAKE3 digest of every path, using the
// system b3sum when present and hashing in-process otherwise.
func ComputeChecksums(paths []string) (map[string]string, error) {
	results := make(map[string]string, len(paths))
	if len(paths) == 0 {
		return results, nil
	}

	if hasB3sum() {
		var b3Paths []string
		for _, p := range paths {
			// b3sum escapes these in its output, which breaks parsing.
			if !strings.ContainsAny(p, "\\\n") {
				b3Paths = append(b3Paths, p)
			}
		}
		if len(b3Paths) > 0 {
			cmd := exec.Command("b3sum", b3Paths...)
			var out bytes.Buffer
			cmd.Stdout = &out
			cmd.Stderr = io.Discard
			if err := cmd.Run(); err == nil {
				scanner := bufio.NewScanner(&out)
				for scanner.Scan() {
					hash, path, ok := strings.Cut(scanner.Text(), "  ")
					if ok {
						results[path] = hash
					}
				}
			} else {
				debugf("b3sum failed: %v\n", err)
			}
		}
		if len(results) == len(paths) {
			return results, nil
		}
	}

	var remaining []string
	for _, p := range paths {
		if _, ok := results[p]; !ok {
			remaining = append(remaining, p)
		}
	}

	numWorkers := min(runtime.NumCPU()*2, len(remaining))
	jobs := make(chan string, len(remaining))
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]byte, 64*1024)
			for path := range jobs {
				hash, err := hashFile(path, buf)
				if err != nil {
					errOnce.Do(func() { firstErr = err })
					continue
				}
				mu.Lock()
				results[path] = hash
				mu.Unlock()
			}
		}()
	}
	for _, p := range remaining {
		jobs <- p
	}
	close(jobs)
	wg.Wait()

	return results, firstErr
}

func hashFile(path string, buf []byte) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
