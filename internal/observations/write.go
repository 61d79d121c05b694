// SPDX-License-Identifier: MIT

package observations

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/Becca-90/SLSA-beach-analysis/internal/log"
)

// BatchFileName names the per-batch output file (1-based batch numbers).
func BatchFileName(batch int) string {
	return fmt.Sprintf("wave_data_batch_%d.csv", batch)
}

// CompleteFileName is the combined output written after the final batch.
const CompleteFileName = "wave_data_complete.csv"

// WriteCSV atomically writes records to path. renameio stages a temp
// file and fsyncs before the rename, so readers never see a partial
// file.
func WriteCSV(path string, records []Record) error {
	logger := log.WithComponent("observations")

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending output file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			logger.Debug().Err(err).Msg("cleanup pending output file")
		}
	}()

	w := csv.NewWriter(pending)
	if err := w.Write(Header()); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range records {
		if err := w.Write(rec.Row()); err != nil {
			return fmt.Errorf("write csv row %d: %w", rec.Incident.Row, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", filepath.Base(path), err)
	}

	logger.Debug().
		Str("event", "observations.written").
		Str("path", path).
		Int("records", len(records)).
		Msg("output file written")
	return nil
}

// WriteBatch writes one batch file into dir.
func WriteBatch(dir string, batch int, records []Record) (string, error) {
	path := filepath.Join(dir, BatchFileName(batch))
	if err := WriteCSV(path, records); err != nil {
		return "", err
	}
	return path, nil
}

// WriteComplete writes the combined file into dir.
func WriteComplete(dir string, records []Record) (string, error) {
	path := filepath.Join(dir, CompleteFileName)
	if err := WriteCSV(path, records); err != nil {
		return "", err
	}
	return path, nil
}

// CombineBatches concatenates the batch files 1..batches into the
// combined file and returns the number of data rows written. Working
// from the batch files means a resumed run does not have to refetch
// batches that were already published.
func CombineBatches(dir string, batches int) (int, error) {
	logger := log.WithComponent("observations")

	path := filepath.Join(dir, CompleteFileName)
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return 0, fmt.Errorf("create pending output file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			logger.Debug().Err(err).Msg("cleanup pending output file")
		}
	}()

	w := csv.NewWriter(pending)
	if err := w.Write(Header()); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}

	rows := 0
	for batch := 1; batch <= batches; batch++ {
		batchPath := filepath.Join(dir, BatchFileName(batch))
		n, err := appendBatch(w, batchPath)
		if err != nil {
			return 0, err
		}
		rows += n
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return 0, fmt.Errorf("flush csv: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return 0, fmt.Errorf("atomically replace %s: %w", CompleteFileName, err)
	}

	logger.Info().
		Str("event", "observations.combined").
		Str("path", path).
		Int("batches", batches).
		Int("records", rows).
		Msg("combined output file written")
	return rows, nil
}

func appendBatch(w *csv.Writer, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open batch file %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	if _, err := r.Read(); err != nil {
		return 0, fmt.Errorf("read batch header %s: %w", filepath.Base(path), err)
	}

	rows := 0
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read batch row %s: %w", filepath.Base(path), err)
		}
		if err := w.Write(row); err != nil {
			return 0, fmt.Errorf("write combined row: %w", err)
		}
		rows++
	}
	return rows, nil
}
