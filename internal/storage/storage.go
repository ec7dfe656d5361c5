package storage

import (
	"context"
	"errors"

	"github.com/xaenox/teams-extractor/internal/models"
)

// ErrNotFound is returned for any operation on an id that does not exist.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned by Insert when the bundle's external message id
// is already stored.
var ErrDuplicate = errors.New("duplicate message id")

// Update is a partial update of a record. Nil fields are left untouched;
// updated_at is always bumped. ClearError wipes the error column, used
// when a record is retried.
type Update struct {
	Status      *models.Status
	Payload     *models.Payload
	ForwardCode *int
	ForwardBody *string
	Error       *string
	ClearError  bool
}

// ListQuery filters the record listing. Author and Channel are substring
// matches; a zero Limit defaults to 100.
type ListQuery struct {
	Status  models.Status
	Author  string
	Channel string
	Limit   int
}

// Stats are aggregate counts over the record table.
type Stats struct {
	Total     int `json:"total_messages"`
	Forwarded int `json:"processed"`
	Pending   int `json:"pending"`
	Failed    int `json:"failed"`
	Today     int `json:"today"`
	ThisWeek  int `json:"this_week"`
}

// Store is the durable record of ingested resolutions and their
// processing state. Implementations guarantee per-record atomicity;
// no multi-record transactions are offered.
type Store interface {
	Insert(ctx context.Context, res models.Resolution) (int64, error)
	Update(ctx context.Context, id int64, upd Update) error
	Get(ctx context.Context, id int64) (*models.Record, error)
	List(ctx context.Context, q ListQuery) ([]*models.Record, error)
	Delete(ctx context.Context, id int64) error
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}
