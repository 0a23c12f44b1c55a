package repository

import (
	"context"
	"errors"

	"github.com/mogcia-app/signal/pkg/db/option"
	"gorm.io/gorm"
)

type store[T any] struct {
	db     *gorm.DB
	keyCol string
}

// ProvideStore builds a Repository whose Update, Delete and FindByKey match on keyCol.
func ProvideStore[T any](db *gorm.DB, keyCol string) Repository[T] {
	if keyCol == "" {
		keyCol = "id"
	}
	return &store[T]{db: db, keyCol: keyCol}
}

func (r *store[T]) WithTrx(tx *gorm.DB) Repository[T] {
	if tx == nil {
		return r
	}
	return &store[T]{db: tx, keyCol: r.keyCol}
}

func (r *store[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	var result []*T
	err := r.buildQuery(ctx, query, opts...).Find(&result).Error
	return result, err
}

// FindOne returns nil, nil when nothing matches.
func (r *store[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	var result T
	err := r.buildQuery(ctx, query, opts...).Take(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

func (r *store[T]) FindByKey(ctx context.Context, key string, opts ...option.QueryOption) (*T, error) {
	opts = append([]option.QueryOption{option.WithWhere(r.keyCol+" = ?", key)}, opts...)
	return r.FindOne(ctx, nil, opts...)
}

func (r *store[T]) Create(ctx context.Context, resource *T) error {
	return r.db.WithContext(ctx).Create(resource).Error
}

func (r *store[T]) Save(ctx context.Context, resource *T) error {
	return r.db.WithContext(ctx).Save(resource).Error
}

func (r *store[T]) Update(ctx context.Context, key string, resource any) error {
	return r.db.WithContext(ctx).Model(new(T)).Where(r.keyCol+" = ?", key).Updates(resource).Error
}

func (r *store[T]) Delete(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Where(r.keyCol+" = ?", key).Delete(new(T)).Error
}

func (r *store[T]) Count(ctx context.Context, query *T) (int64, error) {
	var count int64
	stmt := r.db.WithContext(ctx).Model(new(T))
	if query != nil {
		stmt = stmt.Where(query)
	}
	err := stmt.Count(&count).Error
	return count, err
}

func (r *store[T]) buildQuery(ctx context.Context, filter *T, opts ...option.QueryOption) *gorm.DB {
	db := r.db.WithContext(ctx).Model(new(T))
	if filter != nil {
		db = db.Where(filter)
	}
	for _, opt := range opts {
		db = opt.Apply(db)
	}
	return db
}
