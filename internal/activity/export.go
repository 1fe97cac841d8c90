package activity

import (
	"bufio"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzip"
)

// ExportRecord is one line of an export
type ExportRecord struct {
	Category string `json:"category"`
	Event    any    `json:"event"`
}

// Export writes every buffered event to w as gzip-compressed NDJSON,
// messages first, then contacts, then alerts, each oldest first.
func (m *Monitor) Export(w io.Writer) error {
	zw := gzip.NewWriter(w)
	bw := bufio.NewWriter(zw)

	write := func(category string, event any) error {
		line, err := sonic.Marshal(ExportRecord{Category: category, Event: event})
		if err != nil {
			return fmt.Errorf("encode %s event: %w", category, err)
		}
		if _, err := bw.Write(line); err != nil {
			return err
		}
		return bw.WriteByte('\n')
	}

	for _, e := range m.messages.ReadAll() {
		if err := write(CategoryMessages, e); err != nil {
			return err
		}
	}
	for _, e := range m.contacts.ReadAll() {
		if err := write(CategoryContacts, e); err != nil {
			return err
		}
	}
	for _, e := range m.alerts.ReadAll() {
		if err := write(CategoryAlerts, e); err != nil {
			return err
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush export: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close export: %w", err)
	}
	return nil
}

// ReadExport decodes an export produced by Export
func ReadExport(r io.Reader) ([]ExportRecord, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open export: %w", err)
	}
	defer zr.Close()

	var records []ExportRecord
	scanner := bufio.NewScanner(zr)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		var rec ExportRecord
		if err := sonic.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("decode export line %d: %w", len(records)+1, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	return records, nil
}
