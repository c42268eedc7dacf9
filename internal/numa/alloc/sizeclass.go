package alloc

// SizeClass selects the backing strategy for an allocation. The three tiers
// have fragmentation/copy-cost tradeoffs that differ by an order of
// magnitude, so each gets its own pool design.
type SizeClass int

const (
	// ClassSmall objects (<= 128B) come from fixed-slot slab segments.
	ClassSmall SizeClass = iota

	// ClassMedium objects (129B..16KiB) come from chunked free-list pools.
	ClassMedium

	// ClassLarge objects (> 16KiB) are allocated directly, one mapping each.
	ClassLarge

	numClasses
)

// Class boundaries in bytes.
const (
	SmallMax  = 128
	MediumMax = 16 * 1024
)

func (c SizeClass) String() string {
	switch c {
	case ClassSmall:
		return "small"
	case ClassMedium:
		return "medium"
	case ClassLarge:
		return "large"
	default:
		return "unknown"
	}
}

// ClassOf maps a requested size to its size class.
func ClassOf(size int) SizeClass {
	switch {
	case size <= SmallMax:
		return ClassSmall
	case size <= MediumMax:
		return ClassMedium
	default:
		return ClassLarge
	}
}
