package protocol

import (
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		kind     Kind
		stat     Stat
		value    float64
		hasValue bool
	}{
		{name: "bare integer", line: "12", kind: KindSample, value: 12, hasValue: true},
		{name: "bare decimal", line: "1.2345", kind: KindSample, value: 1.2345, hasValue: true},
		{name: "leading dot", line: ".5", kind: KindSample, value: 0.5, hasValue: true},
		{name: "trailing dot", line: "3.", kind: KindSample, value: 3, hasValue: true},
		{name: "surrounding spaces", line: "  2.5\r", kind: KindSample, value: 2.5, hasValue: true},
		{name: "signed is not a sample", line: "-1.5", kind: KindUnclassified},
		{name: "exponent is not a sample", line: "1e3", kind: KindUnclassified},
		{name: "two dots", line: "1.2.3", kind: KindUnclassified},
		{name: "flow average", line: "Promedio flujo = 2.0 L/min", kind: KindStat, stat: StatFlowAverage, value: 2, hasValue: true},
		{name: "voltage average", line: "promedio voltaje=1.75", kind: KindStat, stat: StatVoltageAverage, value: 1.75, hasValue: true},
		{name: "precision accented", line: "precisión = 0.0229 V", kind: KindStat, stat: StatPrecision, value: 0.0229, hasValue: true},
		{name: "precision upper case", line: "PRECISIÓN = 0.5", kind: KindStat, stat: StatPrecision, value: 0.5, hasValue: true},
		{name: "precision short", line: "prec=0.01", kind: KindStat, stat: StatPrecision, value: 0.01, hasValue: true},
		{name: "precision unaccented", line: "Precision = 0.3 V", kind: KindStat, stat: StatPrecision, value: 0.3, hasValue: true},
		{name: "stat without value", line: "promedio flujo = n/a", kind: KindStat, stat: StatFlowAverage},
		{name: "stat without equals", line: "promedio flujo 2.0", kind: KindStat, stat: StatFlowAverage},
		{name: "first token after first equals", line: "prec = 0.2 (n=30)", kind: KindStat, stat: StatPrecision, value: 0.2, hasValue: true},
		{name: "accuracy terminator", line: "Exactitud = 1.5 %", kind: KindTerminator, stat: StatAccuracy, value: 1.5, hasValue: true},
		{name: "accuracy terminator without value", line: "exactitud", kind: KindTerminator, stat: StatAccuracy},
		{name: "offset terminator", line: "Offset calculado = -0.012 V", kind: KindTerminator, stat: StatOffset, value: -0.012, hasValue: true},
		{name: "noise", line: "midiendo...", kind: KindUnclassified},
		{name: "empty", line: "   ", kind: KindEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.line)
			if got.Kind != tt.kind {
				t.Fatalf("Classify(%q).Kind = %s, want %s", tt.line, got.Kind, tt.kind)
			}
			if got.Stat != tt.stat {
				t.Errorf("Classify(%q).Stat = %q, want %q", tt.line, got.Stat, tt.stat)
			}
			if got.HasValue != tt.hasValue {
				t.Fatalf("Classify(%q).HasValue = %t, want %t", tt.line, got.HasValue, tt.hasValue)
			}
			if tt.hasValue && got.Value != tt.value {
				t.Errorf("Classify(%q).Value = %v, want %v", tt.line, got.Value, tt.value)
			}
		})
	}
}

func TestClassifyIsPure(t *testing.T) {
	lines := []string{"1.0", "precisión = 0.5", "exactitud", "garbage", ""}
	for _, l := range lines {
		a, b := Classify(l), Classify(l)
		if a != b {
			t.Fatalf("Classify(%q) not deterministic: %+v vs %+v", l, a, b)
		}
	}
}

func TestTerminates(t *testing.T) {
	if !Classify("exactitud = 1").Terminates() {
		t.Fatalf("exactitud should terminate")
	}
	if !Classify("offset calculado = 0.1").Terminates() {
		t.Fatalf("offset calculado should terminate")
	}
	if Classify("prec = 0.1").Terminates() {
		t.Fatalf("prec should not terminate")
	}
}

func TestFormatReference(t *testing.T) {
	tests := map[float64]string{
		12:       "12",
		1.5:      "1.5",
		0.000001: "0.000001",
		1e7:      "10000000",
	}
	for in, want := range tests {
		if got := FormatReference(in); got != want {
			t.Errorf("FormatReference(%v) = %q, want %q", in, got, want)
		}
	}
}
