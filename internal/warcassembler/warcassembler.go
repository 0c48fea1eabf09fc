// Package warcassembler implements the WARC Assembler: it merges the
// proxy's recorded request/response stream with synthesized resource
// records (screenshot) into one archive, preserving completion order, per
// spec §4.6.
package warcassembler

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/harvard-lil/perma-capture/internal/pkg/log"
	"github.com/harvard-lil/perma-capture/pkg/models"
)

// Screenshot is the synthesized resource record the orchestrator attaches
// ahead of the recorded traffic, if a screenshot was taken.
type Screenshot struct {
	PNG        []byte
	TargetURL  string
}

// Assembler reads the proxy's on-disk WARC and emits a new WARC prefixed
// with the Perma envelope prelude and an optional screenshot record.
type Assembler struct {
	logger *log.FieldedLogger
}

func New() *Assembler {
	return &Assembler{logger: log.NewFieldedLogger(&log.Fields{"component": "warcassembler"})}
}

// Assemble reads recordedWARCPath (the proxy's on-disk output) and writes
// outputPath, a gzip-compressed WARC containing: one warcinfo record, the
// screenshot resource record if present, then every record from
// recordedWARCPath in order. It returns the final on-disk size.
func (a *Assembler) Assemble(recordedWARCPath, outputPath string, screenshot *Screenshot) (*models.WARCResult, error) {
	out, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("warcassembler: create output: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)

	if err := writeWARCInfoRecord(gz); err != nil {
		gz.Close()
		return nil, err
	}

	if screenshot != nil {
		if err := writeScreenshotRecord(gz, screenshot); err != nil {
			gz.Close()
			return nil, err
		}
	}

	recorded, err := os.Open(recordedWARCPath)
	if err != nil {
		gz.Close()
		return nil, fmt.Errorf("warcassembler: open recorded warc: %w", err)
	}
	defer recorded.Close()

	if _, err := io.Copy(gz, recorded); err != nil {
		gz.Close()
		return nil, fmt.Errorf("warcassembler: copy recorded records: %w", err)
	}

	if err := gz.Close(); err != nil {
		return nil, err
	}

	info, err := out.Stat()
	if err != nil {
		return nil, err
	}

	return &models.WARCResult{Path: outputPath, Size: info.Size()}, nil
}

func writeWARCInfoRecord(w io.Writer) error {
	recordID := uuid.New().String()
	body := fmt.Sprintf("software: perma-capture-engine\nformat: WARC File Format 1.0\n")

	header := fmt.Sprintf(
		"WARC/1.0\r\nWARC-Type: warcinfo\r\nWARC-Record-ID: <urn:uuid:%s>\r\nWARC-Date: %s\r\nContent-Type: application/warc-fields\r\nContent-Length: %d\r\n\r\n",
		recordID, time.Now().UTC().Format(time.RFC3339), len(body),
	)

	_, err := io.WriteString(w, header+body+"\r\n\r\n")
	return err
}

func writeScreenshotRecord(w io.Writer, s *Screenshot) error {
	recordID := uuid.New().String()

	header := fmt.Sprintf(
		"WARC/1.0\r\nWARC-Type: resource\r\nWARC-Record-ID: <urn:uuid:%s>\r\nWARC-Target-URI: %s\r\nWARC-Date: %s\r\nContent-Type: image/png\r\nContent-Length: %d\r\n\r\n",
		recordID, s.TargetURL, time.Now().UTC().Format(time.RFC3339), len(s.PNG),
	)

	buf := bytes.NewBufferString(header)
	buf.Write(s.PNG)
	buf.WriteString("\r\n\r\n")

	_, err := w.Write(buf.Bytes())
	return err
}
