package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/mmdatafocus/storefront_backend/appctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

const tenantColumn = "tenant_id"

// ErrCrossTenantWrite is returned when a request scoped to one store tries to insert a
// row stamped with another store's tenant_id.
var ErrCrossTenantWrite = errors.New("row belongs to another tenant")

// TenantGuardPlugin keeps every gorm statement issued under a tenant-scoped context
// inside that tenant:
//   - reads, updates and deletes on a table with tenant_id get `tenant_id = ?` appended
//     unless the statement already filters on it;
//   - creates stamp an empty tenant_id and refuse rows for a different tenant.
//
// Raw/Exec SQL is not seen by callbacks; the ledger statements carry tenant_id themselves.
// Workers and platform admins opt out through the SkipTenantScope / IsAdmin flags.
type TenantGuardPlugin struct{}

func NewTenantGuardPlugin() *TenantGuardPlugin { return &TenantGuardPlugin{} }

func (p *TenantGuardPlugin) Name() string { return "tenant_guard" }

func (p *TenantGuardPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	if err := cb.Create().Before("gorm:create").Register("tenant_guard:create", stampTenantOnCreate); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("tenant_guard:query", scopeToTenant); err != nil {
		return err
	}
	if err := cb.Row().Before("gorm:row").Register("tenant_guard:row", scopeToTenant); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("tenant_guard:update", scopeToTenant); err != nil {
		return err
	}
	return cb.Delete().Before("gorm:delete").Register("tenant_guard:delete", scopeToTenant)
}

// guardedTenant returns the tenant a statement must stay inside and the model's tenant_id
// field, or ok=false when the statement is not tenant scoped.
func guardedTenant(db *gorm.DB) (tenantId string, field *schema.Field, ok bool) {
	if db == nil || db.Statement == nil || db.Statement.Context == nil || db.Statement.Schema == nil {
		return "", nil, false
	}
	ctx := db.Statement.Context
	if skip, _ := appctx.GetBool(ctx, appctx.ContextKeySkipTenantScope); skip {
		return "", nil, false
	}
	if admin, _ := appctx.GetBool(ctx, appctx.ContextKeyIsAdmin); admin {
		return "", nil, false
	}
	tenantId, _ = appctx.GetString(ctx, appctx.ContextKeyTenantId)
	if tenantId == "" {
		return "", nil, false
	}
	field = db.Statement.Schema.LookUpField(tenantColumn)
	if field == nil {
		return "", nil, false
	}
	return tenantId, field, true
}

func scopeToTenant(db *gorm.DB) {
	tenantId, _, ok := guardedTenant(db)
	if !ok {
		return
	}
	if where, isWhere := db.Statement.Clauses["WHERE"].Expression.(clause.Where); isWhere && filtersOnTenant(where.Exprs) {
		return
	}
	db.Statement.AddClause(clause.Where{Exprs: []clause.Expression{
		clause.Eq{Column: clause.Column{Table: db.Statement.Table, Name: tenantColumn}, Value: tenantId},
	}})
}

// stampTenantOnCreate fills tenant_id on new rows and rejects rows aimed at another
// tenant. Works for single structs and for batch creates of slices.
func stampTenantOnCreate(db *gorm.DB) {
	tenantId, field, ok := guardedTenant(db)
	if !ok {
		return
	}
	ctx := db.Statement.Context
	stamp := func(row reflect.Value) {
		if row.Kind() != reflect.Struct {
			return
		}
		current, zero := field.ValueOf(ctx, row)
		if zero {
			if err := field.Set(ctx, row, tenantId); err != nil {
				_ = db.AddError(err)
			}
			return
		}
		if got, _ := current.(string); got != tenantId {
			_ = db.AddError(fmt.Errorf("%w: %s row for %q in a %q request", ErrCrossTenantWrite, db.Statement.Table, got, tenantId))
		}
	}

	rv := db.Statement.ReflectValue
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			stamp(reflect.Indirect(rv.Index(i)))
		}
	case reflect.Struct:
		stamp(rv)
	}
}

func filtersOnTenant(exprs []clause.Expression) bool {
	for _, e := range exprs {
		var col any
		switch v := e.(type) {
		case clause.Eq:
			col = v.Column
		case clause.Neq:
			col = v.Column
		case clause.IN:
			col = v.Column
		case clause.AndConditions:
			if filtersOnTenant(v.Exprs) {
				return true
			}
			continue
		case clause.Expr:
			// String conditions such as Where("tenant_id = ? AND id = ?").
			if strings.Contains(strings.ToLower(v.SQL), tenantColumn) {
				return true
			}
			continue
		case clause.NamedExpr:
			if strings.Contains(strings.ToLower(v.SQL), tenantColumn) {
				return true
			}
			continue
		default:
			continue
		}
		switch c := col.(type) {
		case string:
			if strings.EqualFold(c, tenantColumn) {
				return true
			}
		case clause.Column:
			if strings.EqualFold(c.Name, tenantColumn) {
				return true
			}
		}
	}
	return false
}
