package models

import (
	"math"

	"bookstore/internal/schema"
)

// MaxQuantity is the largest stock count a product can hold. It fits the
// INTEGER column of every supported dialect.
const MaxQuantity = math.MaxInt32

// Product represents one row of the inventory table.
type Product struct {
	ID            int64  `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	Name          string `json:"name" gorm:"column:name;not null"`
	Price         int64  `json:"price" gorm:"column:price;not null"` // smallest currency unit
	Quantity      int    `json:"quantity" gorm:"column:quantity;not null"`
	SupplierName  string `json:"supplier_name" gorm:"column:supplier_name;not null"`
	SupplierPhone string `json:"supplier_phone" gorm:"column:supplier_phone;not null"`
}

// TableName pins the GORM table name to the schema definition.
func (Product) TableName() string {
	return schema.TableName
}

// ProductFields is a partial field set used by insert and update requests.
// A nil field is absent: on update it leaves the stored value untouched.
type ProductFields struct {
	Name          *string `json:"name,omitempty" validate:"omitnil,notblank"`
	Price         *int64  `json:"price,omitempty" validate:"omitnil,gte=0"`
	Quantity      *int    `json:"quantity,omitempty" validate:"omitnil,gte=0,lte=2147483647"`
	SupplierName  *string `json:"supplier_name,omitempty" validate:"omitnil,notblank"`
	SupplierPhone *string `json:"supplier_phone,omitempty" validate:"omitnil,notblank"`
}

// Empty reports whether no field is present.
func (f ProductFields) Empty() bool {
	return f.Name == nil && f.Price == nil && f.Quantity == nil &&
		f.SupplierName == nil && f.SupplierPhone == nil
}

// Columns returns the present fields keyed by column name.
func (f ProductFields) Columns() map[string]interface{} {
	cols := make(map[string]interface{}, 5)
	if f.Name != nil {
		cols[schema.ColumnName] = *f.Name
	}
	if f.Price != nil {
		cols[schema.ColumnPrice] = *f.Price
	}
	if f.Quantity != nil {
		cols[schema.ColumnQuantity] = *f.Quantity
	}
	if f.SupplierName != nil {
		cols[schema.ColumnSupplierName] = *f.SupplierName
	}
	if f.SupplierPhone != nil {
		cols[schema.ColumnSupplierPhone] = *f.SupplierPhone
	}
	return cols
}

// Apply copies the present fields onto p.
func (f ProductFields) Apply(p *Product) {
	if f.Name != nil {
		p.Name = *f.Name
	}
	if f.Price != nil {
		p.Price = *f.Price
	}
	if f.Quantity != nil {
		p.Quantity = *f.Quantity
	}
	if f.SupplierName != nil {
		p.SupplierName = *f.SupplierName
	}
	if f.SupplierPhone != nil {
		p.SupplierPhone = *f.SupplierPhone
	}
}

// Value returns the value of the named schema column, for ordering and
// paging by that column.
func (p Product) Value(column string) (interface{}, bool) {
	switch column {
	case schema.ColumnID:
		return p.ID, true
	case schema.ColumnName:
		return p.Name, true
	case schema.ColumnPrice:
		return p.Price, true
	case schema.ColumnQuantity:
		return p.Quantity, true
	case schema.ColumnSupplierName:
		return p.SupplierName, true
	case schema.ColumnSupplierPhone:
		return p.SupplierPhone, true
	}
	return nil, false
}
