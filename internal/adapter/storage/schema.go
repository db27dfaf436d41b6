package storage

import (
	"context"
	"fmt"
	"strings"
)

type tableDef struct {
	name    string
	columns []string
	indexes []indexDef
}

type indexDef struct {
	name    string
	columns string
}

// {ts} is replaced by the dialect's timestamp type.
var tables = []tableDef{
	{
		name: "users",
		columns: []string{
			"id VARCHAR(64) NOT NULL PRIMARY KEY",
			"employee_no VARCHAR(32) NOT NULL",
			"name VARCHAR(100) NOT NULL",
			"email VARCHAR(200)",
			"active BOOLEAN NOT NULL",
			"resign_date DATE",
		},
	},
	{
		name: "locations",
		columns: []string{
			"id VARCHAR(64) NOT NULL PRIMARY KEY",
			"code VARCHAR(20) NOT NULL UNIQUE",
			"name VARCHAR(100) NOT NULL",
		},
	},
	{
		name: "asset_categories",
		columns: []string{
			"id VARCHAR(64) NOT NULL PRIMARY KEY",
			"code VARCHAR(20) NOT NULL UNIQUE",
			"name VARCHAR(100) NOT NULL",
			"useful_life_months INTEGER NOT NULL DEFAULT 0",
		},
	},
	{
		name: "eos_info",
		columns: []string{
			"id VARCHAR(64) NOT NULL PRIMARY KEY",
			"product_name VARCHAR(200) NOT NULL",
			"eos_date DATE NOT NULL",
		},
	},
	{
		name: "assets",
		columns: []string{
			"id VARCHAR(64) NOT NULL PRIMARY KEY",
			"identifier VARCHAR(50) NOT NULL UNIQUE",
			"name VARCHAR(200) NOT NULL",
			"category_id VARCHAR(64) NOT NULL",
			"location_id VARCHAR(64) NOT NULL",
			"status VARCHAR(20) NOT NULL",
			"current_holder_id VARCHAR(64)",
			"assigned_date DATE",
			"manager_id VARCHAR(64)",
			"purchase_date DATE",
			"purchase_cost DECIMAL(15,2) NOT NULL DEFAULT 0",
			"warranty_end DATE",
			"useful_life_months INTEGER NOT NULL DEFAULT 0",
			"useful_life_expire_date DATE",
			"eos_id VARCHAR(64)",
			"notes TEXT",
			"deleted BOOLEAN NOT NULL",
			"created_at {ts} NOT NULL",
			"updated_at {ts} NOT NULL",
		},
		indexes: []indexDef{{"idx_assets_status", "status"}, {"idx_assets_holder", "current_holder_id"}},
	},
	{
		name: "asset_assignments",
		columns: []string{
			"id VARCHAR(64) NOT NULL PRIMARY KEY",
			"asset_id VARCHAR(64) NOT NULL",
			"user_id VARCHAR(64) NOT NULL",
			"assignment_type VARCHAR(20) NOT NULL",
			"is_primary BOOLEAN NOT NULL",
			"start_date DATE NOT NULL",
			"end_date DATE",
			"active BOOLEAN NOT NULL",
			"assigned_by VARCHAR(64)",
			"created_at {ts} NOT NULL",
		},
		indexes: []indexDef{
			{"idx_asset_assignments_asset", "asset_id, active"},
			{"idx_asset_assignments_user", "user_id, active"},
		},
	},
	{
		name: "licenses",
		columns: []string{
			"id VARCHAR(64) NOT NULL PRIMARY KEY",
			"identifier VARCHAR(50) NOT NULL UNIQUE",
			"software_name VARCHAR(200) NOT NULL",
			"total_quantity INTEGER NOT NULL",
			"used_quantity INTEGER NOT NULL DEFAULT 0",
			"available_quantity INTEGER NOT NULL",
			"compliance_status VARCHAR(20) NOT NULL",
			"is_subscription BOOLEAN NOT NULL",
			"subscription_start DATE",
			"subscription_end DATE",
			"purchase_cost DECIMAL(15,2) NOT NULL DEFAULT 0",
			"renewal_cost DECIMAL(15,2) NOT NULL DEFAULT 0",
			"manager_id VARCHAR(64)",
			"deleted BOOLEAN NOT NULL",
			"created_at {ts} NOT NULL",
			"updated_at {ts} NOT NULL",
		},
		indexes: []indexDef{{"idx_licenses_subscription_end", "subscription_end"}},
	},
	{
		name: "license_assignments",
		columns: []string{
			"id VARCHAR(64) NOT NULL PRIMARY KEY",
			"license_id VARCHAR(64) NOT NULL",
			"user_id VARCHAR(64) NOT NULL",
			"asset_id VARCHAR(64)",
			"assigned_date DATE NOT NULL",
			"revoked_date DATE",
			"active BOOLEAN NOT NULL",
			"assigned_by VARCHAR(64)",
			"created_at {ts} NOT NULL",
		},
		indexes: []indexDef{
			{"idx_license_assignments_license", "license_id, active"},
			{"idx_license_assignments_user", "user_id, active"},
		},
	},
	{
		name: "asset_history",
		columns: []string{
			"id VARCHAR(64) NOT NULL PRIMARY KEY",
			"reference_type VARCHAR(20) NOT NULL",
			"reference_id VARCHAR(64) NOT NULL",
			"action_type VARCHAR(30) NOT NULL",
			"detail TEXT",
			"actor_id VARCHAR(64)",
			"created_at {ts} NOT NULL",
		},
		indexes: []indexDef{{"idx_asset_history_reference", "reference_type, reference_id"}},
	},
	{
		name: "history_values",
		columns: []string{
			"history_id VARCHAR(64) NOT NULL",
			"side VARCHAR(10) NOT NULL",
			"field VARCHAR(64) NOT NULL",
			"field_value TEXT",
			"PRIMARY KEY (history_id, side, field)",
		},
		indexes: []indexDef{{"idx_history_values_field", "field"}},
	},
	{
		name: "notifications",
		columns: []string{
			"id VARCHAR(64) NOT NULL PRIMARY KEY",
			"notification_type VARCHAR(30) NOT NULL",
			"severity VARCHAR(10) NOT NULL",
			"target_user_id VARCHAR(64) NOT NULL",
			"title VARCHAR(300) NOT NULL",
			"message TEXT",
			"reference_type VARCHAR(20) NOT NULL",
			"reference_id VARCHAR(64) NOT NULL",
			"is_read BOOLEAN NOT NULL",
			"created_at {ts} NOT NULL",
			"created_day DATE NOT NULL",
			"UNIQUE (notification_type, reference_type, reference_id, created_day)",
		},
		indexes: []indexDef{{"idx_notifications_target", "target_user_id, is_read"}},
	},
	{
		name: "identifier_sequences",
		columns: []string{
			"prefix VARCHAR(50) NOT NULL PRIMARY KEY",
			"seq_value INTEGER NOT NULL",
		},
	},
}

// Partial unique indexes back the one-active-assignment rule in the
// database as well as in the service.
var activeAssignmentGuards = map[string][]string{
	"postgres": {
		"CREATE UNIQUE INDEX IF NOT EXISTS uq_asset_assignments_active ON asset_assignments (asset_id) WHERE active",
	},
	"sqlite": {
		"CREATE UNIQUE INDEX IF NOT EXISTS uq_asset_assignments_active ON asset_assignments (asset_id) WHERE active",
	},
}

func (d *dialect) schema() []string {
	var stmts []string
	for _, t := range tables {
		cols := make([]string, 0, len(t.columns)+len(t.indexes))
		for _, c := range t.columns {
			cols = append(cols, strings.ReplaceAll(c, "{ts}", d.timestamp))
		}
		if d.name == "mysql" {
			for _, idx := range t.indexes {
				cols = append(cols, fmt.Sprintf("INDEX %s (%s)", idx.name, idx.columns))
			}
		}
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", t.name, strings.Join(cols, ",\n\t")))
		if d.name != "mysql" {
			for _, idx := range t.indexes {
				stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", idx.name, t.name, idx.columns))
			}
		}
	}
	return append(stmts, activeAssignmentGuards[d.name]...)
}

// Migrate creates any missing tables and indexes.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect.name, err)
		}
	}
	return nil
}
