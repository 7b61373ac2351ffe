package types

import (
	"errors"
	"math"
	"testing"
)

func TestDefendedAsset_Validate(t *testing.T) {
	tests := []struct {
		name    string
		radius  float64
		wantErr bool
	}{
		{"zero radius", 0, true},
		{"negative radius", -1, true},
		{"smallest positive", 0.001, false},
		{"upper bound inclusive", MaxRadiusKm, false},
		{"above upper bound", MaxRadiusKm + 0.1, true},
		{"NaN", math.NaN(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			da := DefendedAsset{Name: "DA", RadiusKm: tt.radius}
			err := da.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("error %v does not wrap ErrInvalidInput", err)
			}
		})
	}
}

func TestKinematics_Normalize(t *testing.T) {
	k, err := Kinematics{Lat: 10, Lon: 20, SpeedMps: 100, HeadingDeg: -90}.Normalize()
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if k.HeadingDeg != 270 {
		t.Errorf("HeadingDeg = %v, want 270", k.HeadingDeg)
	}

	bad := []Kinematics{
		{Lat: 91},
		{Lon: -181},
		{SpeedMps: -1},
		{SpeedMps: math.Inf(1)},
		{HeadingDeg: math.NaN()},
	}
	for _, b := range bad {
		if _, err := b.Normalize(); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Normalize(%+v) err = %v, want ErrInvalidInput", b, err)
		}
	}
}

func TestDefaultModelParams(t *testing.T) {
	p := DefaultModelParams()
	if p.WCPA != 0.25 || p.WTCPA != 0.25 || p.WTDB != 0.25 || p.WTWRP != 0.25 {
		t.Errorf("weights = %+v, want 0.25 each", p)
	}
	if p.CPAScaleKm != 20 || p.TCPAScaleS != 120 || p.TDBScaleKm != 30 || p.TWRPScaleS != 120 {
		t.Errorf("scales = %+v", p)
	}
	if !p.Clamp01 {
		t.Error("Clamp01 should default to true")
	}
	if err := p.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestModelParams_Apply(t *testing.T) {
	w := 0.5
	off := false
	p, err := DefaultModelParams().Apply(ParamsPatch{WCPA: &w, Clamp01: &off})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if p.WCPA != 0.5 || p.WTCPA != 0.25 || p.Clamp01 {
		t.Errorf("Apply result = %+v", p)
	}

	zero := 0.0
	base := DefaultModelParams()
	got, err := base.Apply(ParamsPatch{TCPAScaleS: &zero})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero scale err = %v, want ErrInvalidInput", err)
	}
	if got != base {
		t.Error("failed Apply must return the original params")
	}
}

func TestFloatAndValue(t *testing.T) {
	if Float(-1) != nil || Float(math.Inf(1)) != nil || Float(math.NaN()) != nil {
		t.Error("Float should map negative and non-finite values to nil")
	}
	if p := Float(0); p == nil || *p != 0 {
		t.Error("Float(0) should be a pointer to 0")
	}
	if !math.IsInf(Value(nil), 1) {
		t.Error("Value(nil) should be +Inf")
	}
	v := 12.5
	if Value(&v) != 12.5 {
		t.Error("Value should dereference")
	}
}
