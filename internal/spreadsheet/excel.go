package spreadsheet

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"heron/internal/models"
)

// Columns the engine writes back into the workbook for human inspection.
const (
	StatusColumn    = "Status"
	SentAtColumn    = "Sent At"
	RepliedAtColumn = "Replied At"
	FollowupColumn  = "Follow-up At"
)

var ManagedColumns = []string{StatusColumn, SentAtColumn, RepliedAtColumn, FollowupColumn}

var statusLabels = map[models.ContactStatus]string{
	models.ContactStatusPending:      "Pending",
	models.ContactStatusSent:         "Sent",
	models.ContactStatusReplied:      "Replied",
	models.ContactStatusFollowupSent: "Follow-up sent",
	models.ContactStatusBounced:      "Bounced",
}

const timestampFormat = "02/01/2006 15:04"

// ContactRow is one parsed spreadsheet row.
type ContactRow struct {
	Name   string
	Email  string
	Fields map[string]string
}

// StatusTimes carries the optional timestamps mirrored next to a status.
type StatusTimes struct {
	SentAt     *time.Time
	RepliedAt  *time.Time
	FollowupAt *time.Time
}

// SaveUpload writes an uploaded workbook into the upload directory and
// returns its path. Only xlsx workbooks are accepted.
func SaveUpload(uploadDir, filename string, src io.Reader) (string, error) {
	name := filepath.Base(filename)
	if !strings.HasSuffix(strings.ToLower(name), ".xlsx") {
		return "", fmt.Errorf("unsupported file type: %s, expected .xlsx", name)
	}
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload dir: %w", err)
	}
	dest := filepath.Join(uploadDir, name)
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return dest, nil
}

// ListColumns returns the workbook's header row, excluding the columns the
// engine manages itself.
func ListColumns(path string) ([]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var columns []string
	for _, header := range rows[0] {
		header = strings.TrimSpace(header)
		if header == "" || isManagedColumn(header) {
			continue
		}
		columns = append(columns, header)
	}
	return columns, nil
}

// ReadContacts reads every data row, skipping rows without a plausible
// email. All columns besides name, email and the managed ones land in Fields.
func ReadContacts(path, nameCol, emailCol string) ([]ContactRow, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(h)
	}

	var contacts []ContactRow
	for _, row := range rows[1:] {
		cells := make(map[string]string, len(headers))
		for i, header := range headers {
			if header == "" || i >= len(row) {
				continue
			}
			cells[header] = strings.TrimSpace(row[i])
		}

		email := cells[emailCol]
		if email == "" || !strings.Contains(email, "@") {
			continue
		}

		fields := make(map[string]string)
		for header, value := range cells {
			if header == nameCol || header == emailCol || isManagedColumn(header) {
				continue
			}
			fields[header] = value
		}

		contacts = append(contacts, ContactRow{
			Name:   cells[nameCol],
			Email:  email,
			Fields: fields,
		})
	}
	return contacts, nil
}

// RecordStatus mirrors a contact's status into the workbook row matching the
// email (case-insensitive), adding the managed columns when absent and
// saving the file in place.
func RecordStatus(path, emailCol, email string, status models.ContactStatus, times StatusTimes) error {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("failed to read sheet: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("workbook has no header row")
	}

	colIndex, err := ensureManagedColumns(f, sheet, rows[0])
	if err != nil {
		return err
	}

	emailIdx := -1
	for i, header := range rows[0] {
		if strings.TrimSpace(header) == emailCol {
			emailIdx = i
			break
		}
	}
	if emailIdx < 0 {
		return fmt.Errorf("email column %q not found", emailCol)
	}

	target := strings.ToLower(strings.TrimSpace(email))
	for rowNum, row := range rows[1:] {
		if emailIdx >= len(row) || strings.ToLower(strings.TrimSpace(row[emailIdx])) != target {
			continue
		}
		// Sheet rows are 1-based and the header occupies row 1.
		r := rowNum + 2
		if err := setCell(f, sheet, colIndex[StatusColumn], r, statusLabels[status]); err != nil {
			return err
		}
		if times.SentAt != nil {
			if err := setCell(f, sheet, colIndex[SentAtColumn], r, times.SentAt.Format(timestampFormat)); err != nil {
				return err
			}
		}
		if times.RepliedAt != nil {
			if err := setCell(f, sheet, colIndex[RepliedAtColumn], r, times.RepliedAt.Format(timestampFormat)); err != nil {
				return err
			}
		}
		if times.FollowupAt != nil {
			if err := setCell(f, sheet, colIndex[FollowupColumn], r, times.FollowupAt.Format(timestampFormat)); err != nil {
				return err
			}
		}
		break
	}

	if err := f.Save(); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func isManagedColumn(header string) bool {
	for _, managed := range ManagedColumns {
		if header == managed {
			return true
		}
	}
	return false
}

// ensureManagedColumns adds the missing managed headers and returns a map of
// managed column name to 1-based column index.
func ensureManagedColumns(f *excelize.File, sheet string, headers []string) (map[string]int, error) {
	colIndex := make(map[string]int, len(ManagedColumns))
	next := len(headers) + 1
	for i, header := range headers {
		if isManagedColumn(strings.TrimSpace(header)) {
			colIndex[strings.TrimSpace(header)] = i + 1
		}
	}
	for _, managed := range ManagedColumns {
		if _, ok := colIndex[managed]; ok {
			continue
		}
		if err := setCell(f, sheet, next, 1, managed); err != nil {
			return nil, err
		}
		colIndex[managed] = next
		next++
	}
	return colIndex, nil
}

func setCell(f *excelize.File, sheet string, col, row int, value string) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Errorf("bad cell coordinates: %w", err)
	}
	if err := f.SetCellValue(sheet, cell, value); err != nil {
		return fmt.Errorf("failed to set cell %s: %w", cell, err)
	}
	return nil
}
