package spreadsheet

import "heron/internal/models"

// Store is the workbook-backed contact source and status mirror. It holds no
// state; every call opens the file fresh so external edits are picked up.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

func (*Store) ReadContacts(path, nameCol, emailCol string) ([]ContactRow, error) {
	return ReadContacts(path, nameCol, emailCol)
}

func (*Store) Columns(path string) ([]string, error) {
	return ListColumns(path)
}

func (*Store) RecordStatus(path, emailCol, email string, status models.ContactStatus, times StatusTimes) error {
	return RecordStatus(path, emailCol, email, status, times)
}
