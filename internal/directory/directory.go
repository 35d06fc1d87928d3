//go:generate mockgen -source ./directory.go -destination=./mocks/directory_mock.go -package=mock_directory

// Package directory resolves actor capabilities against the external
// membership service and edits role grants.
package directory

import (
	"context"

	"github.com/iurnickita/sugarrush/internal/directory/config"
	"github.com/iurnickita/sugarrush/internal/model"
)

type Directory interface {
	ResolveCapabilities(ctx context.Context, actorID string) (model.Capabilities, error)
	// IsExempt reports an explicit quota bypass, e.g. approved leave.
	IsExempt(ctx context.Context, actorID string) (bool, error)
	ListRoleHolders(ctx context.Context, role model.Role) ([]string, error)
	RevokeRole(ctx context.Context, actorID string, role model.Role) error
	GrantRole(ctx context.Context, actorID string, role model.Role) error
}

func NewDirectory(cfg config.Config) Directory {
	if cfg.URL == "" {
		return NewStatic(cfg.OwnerID)
	}
	return NewClient(cfg)
}
