package repository

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dopaminelite/filestorage/internal/domain"
)

const (
	localTokenIssuer = "file-storage-local"
	// RawFilePath is the endpoint that serves bytes behind local signed URLs
	RawFilePath = "/api/v1/files/raw"
)

// ErrInvalidToken is returned for signed URL tokens that fail verification or have expired
var ErrInvalidToken = errors.New("invalid or expired signed url token")

// localURLClaims are carried by the token in a local signed URL.
// Path is relative to the storage root and slash separated.
type localURLClaims struct {
	Path   string                 `json:"path"`
	Intent domain.SignedURLIntent `json:"intent"`
	jwt.RegisteredClaims
}

// LocalStorage implements domain.StorageProvider on the local filesystem.
// Buckets are subdirectories of the root; locations are absolute paths.
type LocalStorage struct {
	root    string
	baseURL string
	secret  []byte
	now     func() time.Time
	log     zerolog.Logger
}

// NewLocalStorage resolves basePath, creates it, and prepares URL signing.
// An empty secret is replaced by a random one, so URLs do not survive a restart.
func NewLocalStorage(basePath, publicBaseURL string, secret []byte, log zerolog.Logger) (*LocalStorage, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve base path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("storage: create base directory: %w", err)
	}

	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("storage: generate signing secret: %w", err)
		}
		log.Warn().Msg("SIGNED_URL_SECRET not set, local signed urls are only valid until restart")
	}

	log.Info().Str("base_path", abs).Msg("local storage provider initialized")

	return &LocalStorage{
		root:    abs,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		secret:  secret,
		now:     time.Now,
		log:     log,
	}, nil
}

func (s *LocalStorage) Name() string { return "local" }

// Root returns the absolute storage root
func (s *LocalStorage) Root() string { return s.root }

// Store writes content to root/bucket/storedName, truncating any previous file,
// and flushes it to disk before returning the absolute path.
func (s *LocalStorage) Store(_ context.Context, content []byte, storedName, bucket, _ string) (string, error) {
	if storedName == "" || filepath.Base(storedName) != storedName {
		return "", fmt.Errorf("storage: invalid stored file name %q", storedName)
	}

	dir := filepath.Join(s.root, filepath.Clean(bucket))
	fullPath := filepath.Join(dir, storedName)
	if _, err := s.relative(fullPath); err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("storage: create directory: %w", err)
	}

	f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return "", fmt.Errorf("storage: create file: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("storage: flush file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("storage: close file: %w", err)
	}

	s.log.Debug().Str("path", fullPath).Int("size", len(content)).Msg("stored file")
	return fullPath, nil
}

// Sign issues a URL to the raw endpoint carrying an HMAC signed token.
// The object does not have to exist; a stale path fails when the URL is used.
func (s *LocalStorage) Sign(_ context.Context, location string, intent domain.SignedURLIntent, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("storage: ttl must be positive, got %s", ttl)
	}
	rel, err := s.relative(location)
	if err != nil {
		return "", err
	}

	now := s.now()
	claims := localURLClaims{
		Path:   filepath.ToSlash(rel),
		Intent: intent,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    localTokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("storage: sign token: %w", err)
	}

	return s.baseURL + RawFilePath + "?" + url.Values{"token": {token}}.Encode(), nil
}

// Resolve verifies a token issued by Sign and returns the absolute path and intent it grants
func (s *LocalStorage) Resolve(token string) (string, domain.SignedURLIntent, error) {
	claims := &localURLClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(localTokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	fullPath := filepath.Join(s.root, filepath.FromSlash(claims.Path))
	if _, err := s.relative(fullPath); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return fullPath, claims.Intent, nil
}

// relative returns location relative to the root, rejecting anything outside it
func (s *LocalStorage) relative(location string) (string, error) {
	rel, err := filepath.Rel(s.root, filepath.Clean(location))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("storage: location %q is outside the storage root", location)
	}
	return rel, nil
}

// compile-time check
var _ domain.StorageProvider = (*LocalStorage)(nil)
