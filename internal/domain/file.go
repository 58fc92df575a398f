package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ContextType classifies what a stored file is attached to
type ContextType string

const (
	ContextAvatar       ContextType = "AVATAR"
	ContextDocument     ContextType = "DOCUMENT"
	ContextAttachment   ContextType = "ATTACHMENT"
	ContextPaymentSlip  ContextType = "PAYMENT_SLIP"
	ContextProfileCover ContextType = "PROFILE_COVER"
)

var contextTypes = map[ContextType]struct{}{
	ContextAvatar:       {},
	ContextDocument:     {},
	ContextAttachment:   {},
	ContextPaymentSlip:  {},
	ContextProfileCover: {},
}

// ParseContextType accepts any casing of a known context type
func ParseContextType(s string) (ContextType, error) {
	ct := ContextType(strings.ToUpper(strings.TrimSpace(s)))
	if !ct.Valid() {
		return "", NewBadRequest(fmt.Sprintf("unknown context type %q", s)).WithDetail("field", "contextType")
	}
	return ct, nil
}

// Valid reports whether ct is a member of the enumeration
func (ct ContextType) Valid() bool {
	_, ok := contextTypes[ct]
	return ok
}

// Bucket is the logical namespace files of this context type are stored under
func (ct ContextType) Bucket() string {
	return strings.ToLower(string(ct))
}

// SignedURLIntent governs the content disposition a signed URL carries
type SignedURLIntent string

const (
	IntentView     SignedURLIntent = "VIEW"
	IntentDownload SignedURLIntent = "DOWNLOAD"
)

// ParseSignedURLIntent defaults an empty value to VIEW
func ParseSignedURLIntent(s string) (SignedURLIntent, error) {
	switch SignedURLIntent(strings.ToUpper(strings.TrimSpace(s))) {
	case "", IntentView:
		return IntentView, nil
	case IntentDownload:
		return IntentDownload, nil
	}
	return "", NewBadRequest(fmt.Sprintf("unknown intent %q", s)).WithDetail("field", "intent")
}

// StoredFile is the durable metadata record pointing at stored bytes.
// StoragePath is never rewritten once the record exists; only IsDeleted changes.
type StoredFile struct {
	ID               string      `json:"id" bson:"_id"`
	OriginalFileName string      `json:"originalFileName" bson:"original_file_name"`
	StoredFileName   string      `json:"storedFileName" bson:"stored_file_name"`
	MimeType         string      `json:"mimeType" bson:"mime_type"`
	SizeBytes        int64       `json:"sizeBytes" bson:"size_bytes"`
	SHA256           *string     `json:"sha256" bson:"sha256"`
	Bucket           string      `json:"bucket" bson:"bucket"`
	StoragePath      string      `json:"storagePath" bson:"storage_path"`
	ContextType      ContextType `json:"contextType" bson:"context_type"`
	ContextRefID     *string     `json:"contextRefId" bson:"context_ref_id"`
	CreatedByUserID  string      `json:"createdByUserId" bson:"created_by_user_id"`
	CreatedAt        time.Time   `json:"createdAt" bson:"created_at"`
	UpdatedAt        time.Time   `json:"updatedAt" bson:"updated_at"`
	IsDeleted        bool        `json:"isDeleted" bson:"is_deleted"`
}

// SignedURL is an ephemeral grant; it is never persisted.
// ExpiresAt is advisory, the backend enforces the real expiry.
type SignedURL struct {
	FileID    string    `json:"fileId"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// UploadInput carries one file to be persisted
type UploadInput struct {
	Content           []byte
	OriginalFileName  string
	MimeType          string
	CreatedByUserID   string
	ContextType       ContextType
	ContextRefID      *string
	GenerateSignedURL bool
}

// UploadResult is returned for each persisted file
type UploadResult struct {
	File      *StoredFile `json:"file"`
	SignedURL *string     `json:"signedUrl"`
	ExpiresAt *time.Time  `json:"expiresAt"`
}

// BulkSignItem requests a signed URL for one file
type BulkSignItem struct {
	FileID string          `json:"fileId" validate:"required"`
	// Intent is matched case-insensitively; empty means VIEW
	Intent SignedURLIntent `json:"intent,omitempty"`
}

// ListInput holds the optional filters and the page window for List
type ListInput struct {
	CreatedByUserID string
	ContextType     ContextType
	ContextRefID    string
	Limit           int
	Offset          int
}

// FileList is one page of records plus the total matching count
type FileList struct {
	Items []*StoredFile `json:"items"`
	Total int64         `json:"total"`
}

// FileFilter constrains a record query. Zero-valued fields are unconstrained;
// IsDeleted nil matches both deleted and live records.
type FileFilter struct {
	CreatedByUserID string
	ContextType     ContextType
	ContextRefID    string
	IsDeleted       *bool
}

// StorageProvider persists bytes and turns a location back into a signed URL
type StorageProvider interface {
	// Name identifies the backend ("local" or "s3")
	Name() string
	// Store writes content under bucket/storedName and returns the backend location
	Store(ctx context.Context, content []byte, storedName, bucket, contentType string) (string, error)
	// Sign returns a URL granting access to location for roughly ttl
	Sign(ctx context.Context, location string, intent SignedURLIntent, ttl time.Duration) (string, error)
}

// FileRepository is the durable record store for StoredFile metadata
type FileRepository interface {
	// Create assigns ID and timestamps when absent and persists the record
	Create(ctx context.Context, file *StoredFile) error
	// FindByID does not filter soft-deleted records
	FindByID(ctx context.Context, id string) (*StoredFile, error)
	Update(ctx context.Context, file *StoredFile) error
	Query(ctx context.Context, filter FileFilter, limit, offset int) ([]*StoredFile, int64, error)
}

// FileService is the file lifecycle exposed to the API layer
type FileService interface {
	Upload(ctx context.Context, in UploadInput) (*UploadResult, error)
	Get(ctx context.Context, id string) (*StoredFile, error)
	SoftDelete(ctx context.Context, id string) error
	SignOne(ctx context.Context, id string, intent SignedURLIntent, ttlSeconds *int) (*SignedURL, error)
	SignBulk(ctx context.Context, items []BulkSignItem, ttlSeconds *int) ([]SignedURL, error)
	List(ctx context.Context, in ListInput) (*FileList, error)
}
