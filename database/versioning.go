package database

import (
	"errors"
	"reflect"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrStaleVersion is returned when an update or delete carries a version that
// no longer matches the stored row.
var ErrStaleVersion = errors.New("record was modified by someone else")

const (
	versionField   = "Version"
	versionChecked = "versioning:checked"
)

// VersioningPlugin implements optimistic locking for models embedding a
// Version field:
//   - creates start at version 1
//   - updates through a loaded model match on its version and bump it
//   - soft deletes through a loaded model match on its version
//
// A zero version on the model skips the check, which is what bulk updates
// by condition (db.Model(&T{}).Where(...)) look like.
type VersioningPlugin struct{}

func (VersioningPlugin) Name() string { return "versioning" }

func (p VersioningPlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Create().Before("gorm:create").Register("versioning:before_create", p.beforeCreate); err != nil {
		return err
	}
	if err := db.Callback().Update().After("gorm:before_update").Before("gorm:update").Register("versioning:before_update", p.beforeUpdate); err != nil {
		return err
	}
	if err := db.Callback().Update().After("gorm:update").Register("versioning:after_update", p.afterWrite); err != nil {
		return err
	}
	if err := db.Callback().Delete().After("gorm:before_delete").Before("gorm:delete").Register("versioning:before_delete", p.beforeDelete); err != nil {
		return err
	}
	return db.Callback().Delete().After("gorm:delete").Register("versioning:after_delete", p.afterWrite)
}

func (VersioningPlugin) beforeCreate(db *gorm.DB) {
	stmt := db.Statement
	if db.Error != nil || stmt.Schema == nil {
		return
	}
	field := stmt.Schema.LookUpField(versionField)
	if field == nil {
		return
	}

	set := func(rv reflect.Value) {
		if _, zero := field.ValueOf(stmt.Context, rv); zero {
			db.AddError(field.Set(stmt.Context, rv, int64(1)))
		}
	}
	switch stmt.ReflectValue.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < stmt.ReflectValue.Len(); i++ {
			set(reflect.Indirect(stmt.ReflectValue.Index(i)))
		}
	case reflect.Struct:
		set(stmt.ReflectValue)
	}
}

// currentVersion reads the version from a single loaded model; ok is false
// when there is nothing to check against.
func currentVersion(db *gorm.DB) (int64, bool) {
	stmt := db.Statement
	if db.Error != nil || stmt.Schema == nil || stmt.ReflectValue.Kind() != reflect.Struct {
		return 0, false
	}
	field := stmt.Schema.LookUpField(versionField)
	if field == nil {
		return 0, false
	}
	v, zero := field.ValueOf(stmt.Context, stmt.ReflectValue)
	if zero {
		return 0, false
	}
	current, ok := v.(int64)
	return current, ok
}

func versionColumn(db *gorm.DB) clause.Column {
	return clause.Column{Table: clause.CurrentTable, Name: db.Statement.Schema.LookUpField(versionField).DBName}
}

func (VersioningPlugin) beforeUpdate(db *gorm.DB) {
	current, ok := currentVersion(db)
	if !ok {
		return
	}
	stmt := db.Statement
	stmt.AddClause(clause.Where{Exprs: []clause.Expression{
		clause.Eq{Column: versionColumn(db), Value: current},
	}})
	// Restricted updates (Select("a", "b")) still have to write the new version.
	if len(stmt.Selects) > 0 && stmt.Selects[0] != "*" {
		stmt.Selects = append(stmt.Selects, versionField)
	}
	stmt.SetColumn(versionField, current+1, true)
	db.InstanceSet(versionChecked, true)
}

func (VersioningPlugin) beforeDelete(db *gorm.DB) {
	current, ok := currentVersion(db)
	if !ok {
		return
	}
	db.Statement.AddClause(clause.Where{Exprs: []clause.Expression{
		clause.Eq{Column: versionColumn(db), Value: current},
	}})
	db.InstanceSet(versionChecked, true)
}

func (VersioningPlugin) afterWrite(db *gorm.DB) {
	if db.Error != nil || db.DryRun {
		return
	}
	if checked, _ := db.InstanceGet(versionChecked); checked != true {
		return
	}
	if db.RowsAffected == 0 {
		db.AddError(ErrStaleVersion)
	}
}
