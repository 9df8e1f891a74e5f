package proxycore

import "testing"

func TestCompareStatusCode487IsAlwaysBest(t *testing.T) {
	for _, other := range []int{200, 400, 404, 500, 600} {
		if !IsBetter(487, other) {
			t.Errorf("IsBetter(487, %d) = false, want true", other)
		}
	}
}

func TestCompareStatusCode408IsAlwaysWorst(t *testing.T) {
	for _, other := range []int{200, 400, 404, 487, 500} {
		if IsBetter(408, other) {
			t.Errorf("IsBetter(408, %d) = true, want false", other)
		}
	}
}

func TestCompareStatusCodeNumericallyLowestWinsOtherwise(t *testing.T) {
	if !IsBetter(404, 500) {
		t.Error("IsBetter(404, 500) = false, want true")
	}
	if IsBetter(500, 404) {
		t.Error("IsBetter(500, 404) = true, want false")
	}
}

func TestCompareStatusCodeEqualIsNeitherBetter(t *testing.T) {
	if IsBetter(500, 500) {
		t.Error("IsBetter(500, 500) = true, want false for equal codes")
	}
	if CompareStatusCode(500, 500) != 0 {
		t.Errorf("CompareStatusCode(500, 500) = %d, want 0", CompareStatusCode(500, 500))
	}
}

func TestCompareStatusCode408Vs487(t *testing.T) {
	if !IsBetter(487, 408) {
		t.Error("IsBetter(487, 408) = false, want true: 487 beats even 408")
	}
	if IsBetter(408, 487) {
		t.Error("IsBetter(408, 487) = true, want false")
	}
}
