package storage

import (
	"context"
	"fmt"

	"github.com/rl1809/itam/internal/core/domain"
)

// MasterData is the lookup data the lifecycle engine reads but never writes.
type MasterData struct {
	Users      []domain.User
	Locations  []domain.Location
	Categories []domain.Category
	EOS        []domain.EOSInfo
}

// SeedMasterData inserts lookup rows, skipping ones that already exist.
func (s *SQLStore) SeedMasterData(ctx context.Context, data MasterData) error {
	r := s.reader()
	for _, u := range data.Users {
		_, err := r.exec(ctx, s.dialect.insertIgnore(`
			INSERT INTO users (id, employee_no, name, email, active, resign_date) VALUES (?, ?, ?, ?, ?, ?)`),
			u.ID, u.EmployeeNo, u.Name, nullable(u.Email), u.Active, u.ResignDate)
		if err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}
	for _, l := range data.Locations {
		_, err := r.exec(ctx, s.dialect.insertIgnore(`INSERT INTO locations (id, code, name) VALUES (?, ?, ?)`),
			l.ID, l.Code, l.Name)
		if err != nil {
			return fmt.Errorf("seed location %s: %w", l.ID, err)
		}
	}
	for _, c := range data.Categories {
		_, err := r.exec(ctx, s.dialect.insertIgnore(`
			INSERT INTO asset_categories (id, code, name, useful_life_months) VALUES (?, ?, ?, ?)`),
			c.ID, c.Code, c.Name, c.UsefulLifeMonths)
		if err != nil {
			return fmt.Errorf("seed category %s: %w", c.ID, err)
		}
	}
	for _, e := range data.EOS {
		_, err := r.exec(ctx, s.dialect.insertIgnore(`INSERT INTO eos_info (id, product_name, eos_date) VALUES (?, ?, ?)`),
			e.ID, e.ProductName, e.EOSDate)
		if err != nil {
			return fmt.Errorf("seed eos %s: %w", e.ID, err)
		}
	}
	return nil
}
