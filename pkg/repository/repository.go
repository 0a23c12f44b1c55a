package repository

import (
	"context"

	"github.com/mogcia-app/signal/pkg/db/option"
	"gorm.io/gorm"
)

// Repository is a thin gorm store for a single model keyed by one column.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	FindByKey(ctx context.Context, key string, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	Save(ctx context.Context, resource *T) error
	Update(ctx context.Context, key string, resource any) error
	Delete(ctx context.Context, key string) error
	Count(ctx context.Context, query *T) (int64, error)
}
