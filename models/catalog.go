package models

// CatalogResource is a read-only view of a capacity-limited resource (job,
// shift or camping option) owned by the resource catalog. MaxSlots of zero
// means unlimited.
type CatalogResource struct {
	ID       int          `json:"id"`
	Kind     ResourceKind `json:"kind"`
	Name     string       `json:"name"`
	Enabled  bool         `json:"enabled"`
	MaxSlots int          `json:"max_slots"`
}

func (r *CatalogResource) Unlimited() bool {
	return r.MaxSlots <= 0
}
