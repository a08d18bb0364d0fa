package money

import "testing"

func TestAddSubExact(t *testing.T) {
	a, _ := New("100000.00")
	b, _ := New("100.01")
	sum := a.Add(b)
	if sum.String() != "100100.01" {
		t.Errorf("Add() = %s, want 100100.01", sum.String())
	}
	diff := a.Sub(b)
	if diff.String() != "99899.99" {
		t.Errorf("Sub() = %s, want 99899.99", diff.String())
	}
}

func TestVariancePercentZeroBaseline(t *testing.T) {
	current, _ := New("500.00")
	_, defined := VariancePercent(current, Zero)
	if defined {
		t.Error("expected VariancePercent to be undefined for zero baseline")
	}
}

func TestVariancePercent(t *testing.T) {
	current, _ := New("200000.00")
	baseline, _ := New("100000.00")
	pct, defined := VariancePercent(current, baseline)
	if !defined {
		t.Fatal("expected defined variance")
	}
	if pct != 100 {
		t.Errorf("VariancePercent() = %.2f, want 100.00", pct)
	}
}

func TestSharePercentZeroDenominator(t *testing.T) {
	if got := SharePercent(Zero, Zero); got != 0 {
		t.Errorf("SharePercent(0,0) = %v, want 0", got)
	}
	ten, _ := New("10.00")
	if got := SharePercent(ten, Zero); got != 100 {
		t.Errorf("SharePercent(10,0) = %v, want 100", got)
	}
}

func TestAdditivityAcrossDisjointRanges(t *testing.T) {
	r1, _ := New("123.45")
	r2, _ := New("67.89")
	whole, _ := New("191.34")
	if !r1.Add(r2).Equal(whole) {
		t.Errorf("r1+r2 = %s, want %s", r1.Add(r2), whole)
	}
}
