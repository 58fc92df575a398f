package repository

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dopaminelite/filestorage/internal/domain"
)

// newFileID returns a time-ordered identifier for a new record
func newFileID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}

// prepareCreate fills the id and timestamps Create is responsible for
func prepareCreate(file *domain.StoredFile) {
	now := time.Now().UTC()
	if file.ID == "" {
		file.ID = newFileID(now)
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = now
	}
	if file.UpdatedAt.IsZero() {
		file.UpdatedAt = file.CreatedAt
	}
}
