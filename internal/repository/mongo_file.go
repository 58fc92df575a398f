package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dopaminelite/filestorage/internal/domain"
)

type MongoFileRepository struct {
	collection *mongo.Collection
}

func NewMongoFileRepository(db *mongo.Database) *MongoFileRepository {
	return &MongoFileRepository{
		collection: db.Collection("stored_files"),
	}
}

// EnsureIndexes creates the uniqueness and lookup indexes the queries rely on
func (r *MongoFileRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "stored_file_name", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "storage_path", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "context_type", Value: 1}, {Key: "context_ref_id", Value: 1}}},
		{Keys: bson.D{{Key: "created_by_user_id", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create stored file indexes: %w", err)
	}
	return nil
}

func (r *MongoFileRepository) Create(ctx context.Context, file *domain.StoredFile) error {
	prepareCreate(file)

	if _, err := r.collection.InsertOne(ctx, file); err != nil {
		return fmt.Errorf("failed to create stored file: %w", err)
	}
	return nil
}

func (r *MongoFileRepository) FindByID(ctx context.Context, id string) (*domain.StoredFile, error) {
	var file domain.StoredFile
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&file)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.NewFileNotFound(id)
		}
		return nil, fmt.Errorf("failed to get stored file: %w", err)
	}
	return normalizeTimes(&file), nil
}

func (r *MongoFileRepository) Update(ctx context.Context, file *domain.StoredFile) error {
	file.UpdatedAt = time.Now().UTC()

	update := bson.M{
		"$set": bson.M{
			"original_file_name": file.OriginalFileName,
			"mime_type":          file.MimeType,
			"sha256":             file.SHA256,
			"context_ref_id":     file.ContextRefID,
			"is_deleted":         file.IsDeleted,
			"updated_at":         file.UpdatedAt,
		},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": file.ID}, update)
	if err != nil {
		return fmt.Errorf("failed to update stored file: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.NewFileNotFound(file.ID)
	}
	return nil
}

func mongoFileFilter(filter domain.FileFilter) bson.M {
	m := bson.M{}
	if filter.CreatedByUserID != "" {
		m["created_by_user_id"] = filter.CreatedByUserID
	}
	if filter.ContextType != "" {
		m["context_type"] = filter.ContextType
	}
	if filter.ContextRefID != "" {
		m["context_ref_id"] = filter.ContextRefID
	}
	if filter.IsDeleted != nil {
		m["is_deleted"] = *filter.IsDeleted
	}
	return m
}

func (r *MongoFileRepository) Query(ctx context.Context, filter domain.FileFilter, limit, offset int) ([]*domain.StoredFile, int64, error) {
	f := mongoFileFilter(filter)

	total, err := r.collection.CountDocuments(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count stored files: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, f, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query stored files: %w", err)
	}
	defer cursor.Close(ctx)

	files := make([]*domain.StoredFile, 0)
	if err := cursor.All(ctx, &files); err != nil {
		return nil, 0, fmt.Errorf("failed to decode stored files: %w", err)
	}
	for _, file := range files {
		normalizeTimes(file)
	}
	return files, total, nil
}

// normalizeTimes converts decoded timestamps, which come back in local time, to UTC
func normalizeTimes(file *domain.StoredFile) *domain.StoredFile {
	file.CreatedAt = file.CreatedAt.UTC()
	file.UpdatedAt = file.UpdatedAt.UTC()
	return file
}

var _ domain.FileRepository = (*MongoFileRepository)(nil)
