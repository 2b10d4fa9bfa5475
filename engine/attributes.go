package engine

// =============================================================================
// ATTRIBUTE RESOLVER - Per-product unit-conversion multipliers
// =============================================================================

// AttributeResolver looks up unit-conversion multipliers per product.
// Reference data is read-only and snapshotted per request.
type AttributeResolver struct {
	attrs map[ProductID]UnitMultipliers
}

func NewAttributeResolver(attrs map[ProductID]UnitMultipliers) *AttributeResolver {
	if attrs == nil {
		attrs = map[ProductID]UnitMultipliers{}
	}
	return &AttributeResolver{attrs: attrs}
}

// Resolve returns the multipliers for a product. A miss is NOT an error:
// unknown products get zero multipliers, which degrades converted rollups
// to zero under the zero-suppression rule rather than failing the request.
func (r *AttributeResolver) Resolve(product ProductID) UnitMultipliers {
	return r.attrs[product]
}
