package record

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const maxTitleLength = 255

// NewRecord carries the content fields for a create.
type NewRecord struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
	PriceCents  int64   `json:"price_cents"`
	OwnerID     int64   `json:"owner_id"`
}

// Validate checks field shape only. Owner existence is enforced by the Store.
func (n NewRecord) Validate() error {
	err := validation.ValidateStruct(&n,
		validation.Field(&n.Title, validation.Required, validation.RuneLength(1, maxTitleLength)),
		validation.Field(&n.PriceCents, validation.Min(int64(0))),
		validation.Field(&n.OwnerID, validation.Required, validation.Min(int64(1))),
	)
	if err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	PriceCents  *int64  `json:"price_cents"`
}

// Validate checks the supplied fields.
func (p Patch) Validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.Title, validation.NilOrNotEmpty, validation.RuneLength(1, maxTitleLength)),
		validation.Field(&p.PriceCents, validation.Min(int64(0))),
	)
	if err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

// Empty reports whether the patch supplies no fields.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.PriceCents == nil
}

// Apply copies the supplied fields onto r and returns the touched column names.
func (p Patch) Apply(r *Record) []string {
	var columns []string
	if p.Title != nil {
		r.Title = *p.Title
		columns = append(columns, "title")
	}
	if p.Description != nil {
		desc := *p.Description
		r.Description = &desc
		columns = append(columns, "description")
	}
	if p.PriceCents != nil {
		r.PriceCents = *p.PriceCents
		columns = append(columns, "price_cents")
	}
	return columns
}
