package domain

import "fmt"

// MaterialKind tells which catalogue a material reference points into.
type MaterialKind string

const (
	MaterialRaw      MaterialKind = "raw_material"
	MaterialFinished MaterialKind = "finished_product"
)

// ParseMaterialKind accepts the canonical kind names plus the short URL forms "raw" and "finished".
func ParseMaterialKind(s string) (MaterialKind, error) {
	switch s {
	case string(MaterialRaw), "raw":
		return MaterialRaw, nil
	case string(MaterialFinished), "finished":
		return MaterialFinished, nil
	default:
		return "", &ValidationError{Field: "material_kind", Message: fmt.Sprintf("unknown material kind %q", s)}
	}
}

// MaterialRef identifies either a raw material or a finished product.
// Finished products can be ingredients of other recipes.
type MaterialRef struct {
	Kind MaterialKind `json:"kind"`
	ID   string       `json:"id"`
}

// RawMaterial references a raw material by id.
func RawMaterial(id string) MaterialRef {
	return MaterialRef{Kind: MaterialRaw, ID: id}
}

// FinishedProduct references a finished product by id.
func FinishedProduct(id string) MaterialRef {
	return MaterialRef{Kind: MaterialFinished, ID: id}
}

// Validate checks that exactly one known kind and an id are set.
func (m MaterialRef) Validate() error {
	if m.Kind != MaterialRaw && m.Kind != MaterialFinished {
		return &ValidationError{Field: "material_kind", Message: fmt.Sprintf("unknown material kind %q", m.Kind)}
	}
	if m.ID == "" {
		return &ValidationError{Field: "material_id", Message: "is required"}
	}
	return nil
}

func (m MaterialRef) String() string {
	return string(m.Kind) + ":" + m.ID
}

// Columns splits the reference into the nullable raw/finished id columns used in storage.
func (m MaterialRef) Columns() (rawMaterialID, finishedProductID *string) {
	id := m.ID
	if m.Kind == MaterialFinished {
		return nil, &id
	}
	return &id, nil
}

// MaterialFromColumns rebuilds a reference from the storage columns.
// Exactly one of the two ids must be set.
func MaterialFromColumns(rawMaterialID, finishedProductID *string) (MaterialRef, error) {
	switch {
	case rawMaterialID != nil && finishedProductID == nil:
		return RawMaterial(*rawMaterialID), nil
	case finishedProductID != nil && rawMaterialID == nil:
		return FinishedProduct(*finishedProductID), nil
	default:
		return MaterialRef{}, fmt.Errorf("material reference must set exactly one of raw_material_id or finished_product_id")
	}
}
