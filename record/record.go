package record

import (
	"strconv"
	"time"

	"github.com/uptrace/bun"
)

// EpochSentinel replaces missing timestamps in index documents so strict
// date-typed fields never reject them.
var EpochSentinel = time.Unix(0, 0).UTC()

// Owner is the collaborator every Record belongs to.
type Owner struct {
	bun.BaseModel `bun:"table:owners,alias:o"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id" msgpack:"id"`
	Email     string    `bun:"email,notnull,unique" json:"email" msgpack:"email"`
	FullName  string    `bun:"full_name,notnull" json:"full_name" msgpack:"full_name"`
	IsActive  bool      `bun:"is_active,notnull,default:true" json:"is_active" msgpack:"is_active"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at" msgpack:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at" msgpack:"updated_at"`
}

// Record is the canonical entity persisted by the Store.
type Record struct {
	bun.BaseModel `bun:"table:records,alias:r"`

	ID          int64     `bun:"id,pk,autoincrement" json:"id"`
	Title       string    `bun:"title,notnull" json:"title"`
	Description *string   `bun:"description" json:"description"`
	PriceCents  int64     `bun:"price_cents,notnull,default:0" json:"price_cents"`
	OwnerID     int64     `bun:"owner_id,notnull" json:"owner_id"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt   time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`

	Owner *Owner `bun:"rel:belongs-to,join:owner_id=id" json:"-"`
}

// View is the read projection returned to callers and stored in the cache.
// OwnerEmail is denormalized from the owner join so cache hits never need it.
type View struct {
	ID          int64     `json:"id" msgpack:"id"`
	Title       string    `json:"title" msgpack:"title"`
	Description *string   `json:"description" msgpack:"description"`
	PriceCents  int64     `json:"price_cents" msgpack:"price_cents"`
	OwnerID     int64     `json:"owner_id" msgpack:"owner_id"`
	OwnerEmail  *string   `json:"owner_email" msgpack:"owner_email"`
	CreatedAt   time.Time `json:"created_at" msgpack:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" msgpack:"updated_at"`
}

// ToView projects the record, including the owner email when the owner was joined.
func (r *Record) ToView() View {
	v := View{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		PriceCents:  r.PriceCents,
		OwnerID:     r.OwnerID,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.Owner != nil && r.Owner.ID != 0 {
		email := r.Owner.Email
		v.OwnerEmail = &email
	}
	return v
}

// Document is the denormalized projection written to the search index.
type Document struct {
	ID          string    `json:"id" msgpack:"id"`
	Title       string    `json:"title" msgpack:"title"`
	Description string    `json:"description" msgpack:"description"`
	PriceCents  int64     `json:"price_cents" msgpack:"price_cents"`
	OwnerID     int64     `json:"owner_id" msgpack:"owner_id"`
	CreatedAt   time.Time `json:"created_at" msgpack:"created_at"`
}

// DocumentID renders a record identifier the way the index expects it.
func DocumentID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ToDocument builds the index document for the record. A nil description
// becomes "" and a zero creation time becomes EpochSentinel.
func (r *Record) ToDocument() Document {
	doc := Document{
		ID:         DocumentID(r.ID),
		Title:      r.Title,
		PriceCents: r.PriceCents,
		OwnerID:    r.OwnerID,
		CreatedAt:  r.CreatedAt.UTC(),
	}
	if r.Description != nil {
		doc.Description = *r.Description
	}
	if r.CreatedAt.IsZero() {
		doc.CreatedAt = EpochSentinel
	}
	return doc
}
