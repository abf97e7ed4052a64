package models

import "time"

// Entity is implemented by every persistent type the generic repository
// handles. IsNew reports whether the entity has not been saved yet.
type Entity[ID comparable] interface {
	GetID() ID
	SetID(ID)
	IsNew() bool
}

// TableNamer overrides the table name derived from the type name.
type TableNamer interface {
	TableName() string
}

// Timestamped entities have their audit columns set by the repository.
type Timestamped interface {
	Touch(now time.Time, creating bool)
}

// BaseEntity carries a database-generated int64 key. Embed it to get the
// Entity[int64] methods.
type BaseEntity struct {
	ID int64 `db:"id" json:"id" goqu:"skipinsert,skipupdate"`
}

func (e BaseEntity) GetID() int64 {
	return e.ID
}

func (e *BaseEntity) SetID(id int64) {
	e.ID = id
}

func (e BaseEntity) IsNew() bool {
	return e.ID == 0
}
