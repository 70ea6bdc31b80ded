package automation

import (
	"academy/models"
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// StaffDirectory looks up staff accounts.
type StaffDirectory interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	ListByRole(ctx context.Context, role string) ([]models.User, error)
}

// AssignmentPolicy picks the staff member who fulfills a purchase. A nil user
// with a nil error means nobody is available; purchase creation continues.
type AssignmentPolicy interface {
	Assign(ctx context.Context, purchase models.DfyPurchase) (*models.User, error)
}

// GormStaffDirectory reads staff from the users table.
type GormStaffDirectory struct {
	db *gorm.DB
}

func NewGormStaffDirectory(db *gorm.DB) *GormStaffDirectory {
	return &GormStaffDirectory{db: db}
}

func (d *GormStaffDirectory) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := d.db.WithContext(ctx).
		Where("LOWER(email) = ? AND is_deleted = ?", strings.ToLower(strings.TrimSpace(email)), false).
		First(&user).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (d *GormStaffDirectory) ListByRole(ctx context.Context, role string) ([]models.User, error) {
	var users []models.User
	err := d.db.WithContext(ctx).
		Where("role = ? AND is_deleted = ?", role, false).
		Order("id asc").
		Find(&users).Error
	return users, err
}

// FixedAssignee always assigns the same account.
type FixedAssignee struct {
	Directory StaffDirectory
	Email     string
}

func (p FixedAssignee) Assign(ctx context.Context, _ models.DfyPurchase) (*models.User, error) {
	if strings.TrimSpace(p.Email) == "" {
		return nil, nil
	}
	return p.Directory.FindByEmail(ctx, p.Email)
}

// RoundRobin rotates through staff with Role, ordered by id. The rotation
// position is derived from the number of purchases already assigned, so it
// needs no shared state.
type RoundRobin struct {
	Directory StaffDirectory
	Role      string
	DB        *gorm.DB
}

func (p RoundRobin) Assign(ctx context.Context, _ models.DfyPurchase) (*models.User, error) {
	staff, err := p.Directory.ListByRole(ctx, p.Role)
	if err != nil || len(staff) == 0 {
		return nil, err
	}
	var assigned int64
	if err := p.DB.WithContext(ctx).
		Model(&models.DfyPurchase{}).
		Where("assigned_to_id IS NOT NULL").
		Count(&assigned).Error; err != nil {
		return nil, err
	}
	pick := staff[int(assigned%int64(len(staff)))]
	return &pick, nil
}

// LeastLoaded assigns the staff member with the fewest undelivered purchases,
// lowest id on ties.
type LeastLoaded struct {
	Directory StaffDirectory
	Role      string
	DB        *gorm.DB
}

func (p LeastLoaded) Assign(ctx context.Context, _ models.DfyPurchase) (*models.User, error) {
	staff, err := p.Directory.ListByRole(ctx, p.Role)
	if err != nil || len(staff) == 0 {
		return nil, err
	}

	type load struct {
		AssignedToID uint
		OpenCount    int64
	}
	var loads []load
	if err := p.DB.WithContext(ctx).
		Model(&models.DfyPurchase{}).
		Select("assigned_to_id, COUNT(*) AS open_count").
		Where("assigned_to_id IS NOT NULL AND fulfillment_status <> ?", models.FulfillmentDelivered).
		Group("assigned_to_id").
		Scan(&loads).Error; err != nil {
		return nil, err
	}
	open := make(map[uint]int64, len(loads))
	for _, l := range loads {
		open[l.AssignedToID] = l.OpenCount
	}

	best := staff[0]
	for _, s := range staff[1:] {
		if open[s.ID] < open[best.ID] {
			best = s
		}
	}
	return &best, nil
}

// NewAssignmentPolicy builds a policy by name: fixed, round_robin or least_loaded.
func NewAssignmentPolicy(name string, dir StaffDirectory, db *gorm.DB, email, role string) (AssignmentPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "fixed":
		return FixedAssignee{Directory: dir, Email: email}, nil
	case "round_robin":
		return RoundRobin{Directory: dir, Role: role, DB: db}, nil
	case "least_loaded":
		return LeastLoaded{Directory: dir, Role: role, DB: db}, nil
	}
	return nil, fmt.Errorf("unknown assignment policy %q", name)
}
