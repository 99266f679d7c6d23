package store

// RowStatus is the status for a row.
type RowStatus string

const (
	// Normal is the status for a normal row.
	Normal RowStatus = "NORMAL"
	// Archived is the status for an archived row.
	Archived RowStatus = "ARCHIVED"
)

func (r RowStatus) String() string {
	return string(r)
}

// Direction is the ordering direction for list queries.
type Direction string

const (
	Ascending  Direction = "ASC"
	Descending Direction = "DESC"
)
