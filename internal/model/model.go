package model

import "time"

// Заказы

type OrderStatus string

const (
	OrderStatusPending          OrderStatus = "pending"
	OrderStatusClaimed          OrderStatus = "claimed"
	OrderStatusPreparing        OrderStatus = "preparing"
	OrderStatusReady            OrderStatus = "ready"
	OrderStatusDelivered        OrderStatus = "delivered"
	OrderStatusCancelledByWarn  OrderStatus = "cancelled_by_warn"
	OrderStatusCancelledByForce OrderStatus = "cancelled_by_force"
	OrderStatusRefunded         OrderStatus = "refunded"
)

// ActiveOrderStatuses lists the non-terminal statuses. A requester holds at
// most one order in any of them.
var ActiveOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusClaimed,
	OrderStatusPreparing,
	OrderStatusReady,
}

func (s OrderStatus) Active() bool {
	switch s {
	case OrderStatusPending, OrderStatusClaimed, OrderStatusPreparing, OrderStatusReady:
		return true
	}
	return false
}

func (s OrderStatus) Cancelled() bool {
	return s == OrderStatusCancelledByWarn || s == OrderStatusCancelledByForce
}

// Refundable reports whether a refund may follow this status.
func (s OrderStatus) Refundable() bool {
	return s == OrderStatusDelivered || s.Cancelled()
}

// SystemActorID fills FulfillerID when the failsafe completes an order.
// It never owns an account.
const SystemActorID = "system"

const MaxProof = 3

// Origin routes notifications back to where the order was placed.
type Origin struct {
	GuildID   string
	ChannelID string
}

type Order struct {
	ID            string
	RequesterID   string
	Origin        Origin
	Status        OrderStatus
	Item          string
	Priority      bool
	Discounted    bool
	Charged       int
	PreparerID    string
	PreparerName  string
	FulfillerID   string
	CreatedAt     time.Time
	ClaimedAt     time.Time
	PreparingAt   time.Time
	ReadyAt       time.Time
	Proof         []string
	Rating        int
	ArchiveHandle string
}

// Clone returns a copy that shares no slices with o.
func (o Order) Clone() Order {
	if o.Proof != nil {
		o.Proof = append([]string(nil), o.Proof...)
	}
	return o
}

type HistoryEntry struct {
	OrderID   string
	Status    OrderStatus
	Actor     string
	Note      string
	ChangedAt time.Time
}

// Учетные записи

type SuspensionKind string

const (
	SuspensionNone      SuspensionKind = "none"
	SuspensionTimed     SuspensionKind = "timed"
	SuspensionPermanent SuspensionKind = "permanent"
)

type Suspension struct {
	Kind  SuspensionKind
	Until time.Time
}

func (s Suspension) Active(now time.Time) bool {
	switch s.Kind {
	case SuspensionPermanent:
		return true
	case SuspensionTimed:
		return s.Until.After(now)
	}
	return false
}

type Account struct {
	ID                   string
	Balance              int
	LastClaimAt          time.Time
	PrepCountWeek        int
	PrepCountTotal       int
	FulfillCountWeek     int
	FulfillCountTotal    int
	PrepQuotaFailures    int
	FulfillQuotaFailures int
	StrikeCount          int
	Suspension           Suspension
	PerkUntil            time.Time
	MembershipUntil      time.Time
	Greeting             string
}

// NewAccount is the record used for an actor seen for the first time.
func NewAccount(id string) Account {
	return Account{ID: id, Suspension: Suspension{Kind: SuspensionNone}}
}

func (a Account) PerkActive(now time.Time) bool {
	return a.PerkUntil.After(now)
}

func (a Account) Member(now time.Time) bool {
	return a.MembershipUntil.After(now)
}

// StatIncrement is the counter step for one unit of work: doubled while the
// stat perk is active.
func (a Account) StatIncrement(now time.Time) int {
	if a.PerkActive(now) {
		return 2
	}
	return 1
}

// Роли

type Role string

const (
	RolePreparer        Role = "preparer"
	RoleFulfiller       Role = "fulfiller"
	RoleManager         Role = "manager"
	RoleOwner           Role = "owner"
	RoleSeniorPreparer  Role = "senior_preparer"
	RoleSeniorFulfiller Role = "senior_fulfiller"
)

// Senior returns the senior tier of a quota role.
func (r Role) Senior() Role {
	switch r {
	case RolePreparer:
		return RoleSeniorPreparer
	case RoleFulfiller:
		return RoleSeniorFulfiller
	}
	return ""
}

// Capabilities is the resolved role set of one actor. Owner implies every
// other capability.
type Capabilities struct {
	Preparer  bool
	Fulfiller bool
	Manager   bool
	Owner     bool
}

func (c Capabilities) CanPrepare() bool { return c.Preparer || c.Owner }
func (c Capabilities) CanFulfill() bool { return c.Fulfiller || c.Owner }
func (c Capabilities) CanManage() bool  { return c.Manager || c.Owner }
func (c Capabilities) Staff() bool {
	return c.Preparer || c.Fulfiller || c.Manager || c.Owner
}

// Actor is the acting identity supplied by the front end.
type Actor struct {
	ID   string
	Name string
}
