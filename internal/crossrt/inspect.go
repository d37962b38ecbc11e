package crossrt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

// inspectReport summarises an RPM payload without extracting it.
type inspectReport struct {
	Compressor string
	Entries    []string
	TripleDirs []string // triple-named directories not nested in an earlier one
}

// inspectRPM lists the payload of archivePath. When triple is set, matching
// directory entries are collected as LocateTripleDir would see them.
func inspectRPM(archivePath, triple string) (*inspectReport, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	hdr, err := readRPMHeaders(br)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", archivePath, err)
	}
	payload, err := decompressPayload(hdr.PayloadCompressor, br)
	if err != nil {
		return nil, err
	}
	defer payload.Close()

	report := &inspectReport{Compressor: hdr.PayloadCompressor}
	if report.Compressor == "" {
		report.Compressor = "gzip"
	}
	for {
		entry, err := readCpioHeader(payload)
		if err != nil {
			return nil, err
		}
		if entry.Name == cpioTrailer {
			break
		}
		name, err := cpioRelPath(entry.Name)
		if err != nil {
			return nil, err
		}
		report.Entries = append(report.Entries, name)
		if triple != "" && entry.Mode&cpioTypeMask == cpioTypeDir && path.Base(name) == triple && !below(name, report.TripleDirs) {
			report.TripleDirs = append(report.TripleDirs, name)
		}
		if err := skipData(payload, entry.FileSize); err != nil {
			return nil, err
		}
	}
	return report, nil
}

// below reports whether name lies inside one of dirs.
func below(name string, dirs []string) bool {
	for _, d := range dirs {
		if strings.HasPrefix(name, d+"/") {
			return true
		}
	}
	return false
}

func printInspectReport(w io.Writer, archivePath, triple string, r *inspectReport) {
	fmt.Fprintf(w, "%s: %s payload, %d entries\n", archivePath, r.Compressor, len(r.Entries))
	for _, e := range r.Entries {
		fmt.Fprintf(w, "  %s\n", e)
	}
	if triple == "" {
		return
	}
	switch len(r.TripleDirs) {
	case 0:
		cPrintf(colWarn, "No %s directory found!\n", triple)
	case 1:
		cPrintf(colSuccess, "Found %s directory: %s\n", triple, r.TripleDirs[0])
	default:
		cPrintf(colWarn, "Found %d %s directories: %v\n", len(r.TripleDirs), triple, r.TripleDirs)
	}
}
