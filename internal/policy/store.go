package policy

import "context"

// Store persists SOP rules.
type Store interface {
	Create(ctx context.Context, r *SOPRule) error
	Get(ctx context.Context, id string) (*SOPRule, error)
	// ListByType returns enabled and disabled rules for a request type,
	// ordered by Position then CreatedAt.
	ListByType(ctx context.Context, requestType string) ([]*SOPRule, error)
	List(ctx context.Context) ([]*SOPRule, error)
	Update(ctx context.Context, r *SOPRule) error
	Delete(ctx context.Context, id string) error
	// Count reports how many rules exist; used to decide whether to seed.
	Count(ctx context.Context) (int, error)
}
