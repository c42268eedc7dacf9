package alloc

import "testing"

func TestClassOfBoundaries(t *testing.T) {
	tests := []struct {
		size int
		want SizeClass
	}{
		{1, ClassSmall},
		{64, ClassSmall},
		{128, ClassSmall},
		{129, ClassMedium},
		{4096, ClassMedium},
		{16384, ClassMedium},
		{16385, ClassLarge},
		{20000, ClassLarge},
		{1 << 20, ClassLarge},
	}
	for _, tt := range tests {
		if got := ClassOf(tt.size); got != tt.want {
			t.Errorf("ClassOf(%d) = %v, want %v", tt.size, got, tt.want)
		}
	}
}

func TestSizeClassString(t *testing.T) {
	if ClassSmall.String() != "small" || ClassMedium.String() != "medium" || ClassLarge.String() != "large" {
		t.Errorf("unexpected class names: %v %v %v", ClassSmall, ClassMedium, ClassLarge)
	}
}
