package directory

import (
	"context"
	"slices"
	"sync"

	"github.com/iurnickita/sugarrush/internal/model"
)

// Static is an in-process directory. Role holders are listed in the order
// they were first granted.
type Static struct {
	mu      sync.Mutex
	ownerID string
	members []string
	roles   map[string]map[model.Role]bool
	exempt  map[string]bool
}

func NewStatic(ownerID string) *Static {
	return &Static{
		ownerID: ownerID,
		roles:   make(map[string]map[model.Role]bool),
		exempt:  make(map[string]bool),
	}
}

func (d *Static) ResolveCapabilities(_ context.Context, actorID string) (model.Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if actorID != "" && actorID == d.ownerID {
		return model.Capabilities{Preparer: true, Fulfiller: true, Manager: true, Owner: true}, nil
	}
	roles := d.roles[actorID]
	return model.Capabilities{
		Preparer:  roles[model.RolePreparer] || roles[model.RoleSeniorPreparer],
		Fulfiller: roles[model.RoleFulfiller] || roles[model.RoleSeniorFulfiller],
		Manager:   roles[model.RoleManager],
		Owner:     roles[model.RoleOwner],
	}, nil
}

func (d *Static) IsExempt(_ context.Context, actorID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.exempt[actorID], nil
}

func (d *Static) ListRoleHolders(_ context.Context, role model.Role) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var holders []string
	for _, id := range d.members {
		if d.roles[id][role] {
			holders = append(holders, id)
		}
	}
	return holders, nil
}

func (d *Static) RevokeRole(_ context.Context, actorID string, role model.Role) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.roles[actorID], role)
	return nil
}

func (d *Static) GrantRole(_ context.Context, actorID string, role model.Role) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !slices.Contains(d.members, actorID) {
		d.members = append(d.members, actorID)
	}
	if d.roles[actorID] == nil {
		d.roles[actorID] = make(map[model.Role]bool)
	}
	d.roles[actorID][role] = true
	return nil
}

// SetExempt grants or withdraws the quota bypass.
func (d *Static) SetExempt(actorID string, exempt bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.exempt[actorID] = exempt
}
