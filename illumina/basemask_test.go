package illumina

import (
	"strconv"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

type maskCase struct {
	Name     string   `toml:"name"`
	Type     string   `toml:"type"`
	Index    []int    `toml:"index"`
	UMI      []int    `toml:"umi"`
	Read     []int    `toml:"read"`
	Reads    []string `toml:"reads"`
	Expected string   `toml:"expected"`
	Error    string   `toml:"error"`
}

type maskCases struct {
	Cases      []maskCase `toml:"case"`
	ErrorCases []maskCase `toml:"error_case"`
}

func pair(v []int) [2]int {
	var p [2]int
	copy(p[:], v)
	return p
}

func sampleTypeByName(t *testing.T, name string) SampleType {
	for i, n := range sampleTypeNames {
		if n == name {
			return SampleType(i)
		}
	}
	t.Fatalf("Unknown sample type %s", name)
	return Ordinary
}

func parseReads(t *testing.T, reads []string) []ReadSpec {
	specs := make([]ReadSpec, 0, len(reads))
	for i, r := range reads {
		indexed := strings.HasPrefix(r, "I")
		n, err := strconv.Atoi(strings.TrimPrefix(r, "I"))
		if err != nil {
			t.Fatalf("Bad read %q", r)
		}
		specs = append(specs, ReadSpec{Number: i + 1, NumCycles: n, IsIndexed: indexed})
	}
	return specs
}

func (mc maskCase) request(t *testing.T) MaskRequest {
	c := SampleClassification{
		Type:        sampleTypeByName(t, mc.Type),
		IndexLength: pair(mc.Index),
		UMILength:   pair(mc.UMI),
		ReadLength:  pair(mc.Read),
	}
	return RequestFor(c)
}

func loadMaskCases(t *testing.T) maskCases {
	var cases maskCases
	if _, err := toml.DecodeFile("testdata/basemask_cases.toml", &cases); err != nil {
		t.Fatal(err)
	}
	if len(cases.Cases) == 0 || len(cases.ErrorCases) == 0 {
		t.Fatal("No base mask cases loaded")
	}
	return cases
}

func TestComputeBaseMask(t *testing.T) {
	for _, mc := range loadMaskCases(t).Cases {
		reads := parseReads(t, mc.Reads)
		mask, err := ComputeBaseMask(reads, mc.request(t))
		if err != nil {
			t.Errorf("%s: unexpected error: %v", mc.Name, err)
			continue
		}
		if mask.String() != mc.Expected {
			t.Errorf("Wrong base mask for %s:\nEXPECTED:\n%s\nACTUAL:\n%s\n", mc.Name, mc.Expected, mask)
		}
		if err := mask.Validate(reads); err != nil {
			t.Errorf("%s: %v", mc.Name, err)
		}
	}
}

func TestComputeBaseMaskErrors(t *testing.T) {
	expectedErrs := map[string]error{
		"index": ErrIndexExceedsCycles,
		"umi":   ErrUMIExceedsCycles,
	}
	for _, mc := range loadMaskCases(t).ErrorCases {
		mask, err := ComputeBaseMask(parseReads(t, mc.Reads), mc.request(t))
		if err == nil {
			t.Errorf("%s: expected an error, got mask %s", mc.Name, mask)
			continue
		}
		if errors.Cause(err) != expectedErrs[mc.Error] {
			t.Errorf("Wrong error for %s:\nEXPECTED:\n%v\nACTUAL:\n%v\n", mc.Name, expectedErrs[mc.Error], err)
		}
	}
}

// Every token must consume exactly the cycles of its read, whatever the
// sample asks for
func TestBaseMaskCoversEveryCycle(t *testing.T) {
	reads := []ReadSpec{
		{Number: 1, NumCycles: 151},
		{Number: 2, NumCycles: 19, IsIndexed: true},
		{Number: 3, NumCycles: 10, IsIndexed: true},
		{Number: 4, NumCycles: 151},
	}
	for st := Ordinary; st <= NoIndex; st++ {
		for i1 := 0; i1 <= 19; i1++ {
			for i2 := 0; i2 <= 10; i2 += 2 {
				for _, r1 := range []int{0, 50, 151} {
					req := MaskRequest{SampleType: st, Index1: i1, Index2: i2, Dual: i2 > 0, Read1: r1, Read2: 151}
					if st == IDTUMI && i1 > 0 {
						req.UMI1 = (19 - i1) / 2
					}
					mask, err := ComputeBaseMask(reads, req)
					if err != nil {
						t.Fatalf("Unexpected error for %+v: %v", req, err)
					}
					if err := mask.Validate(reads); err != nil {
						t.Errorf("%+v: %v", req, err)
					}
				}
			}
		}
	}
}

func TestTokenCycles(t *testing.T) {
	for token, expected := range map[string]int{
		"Y151":   151,
		"I8N2":   10,
		"I8Y9N2": 19,
		"N10":    10,
	} {
		actual, err := TokenCycles(token)
		if err != nil {
			t.Errorf("Unexpected error for %s: %v", token, err)
		}
		if actual != expected {
			t.Errorf("Wrong cycles for %s:\nEXPECTED:\n%d\nACTUAL:\n%d\n", token, expected, actual)
		}
	}
	for _, bad := range []string{"", "Y", "X10", "I8,N2"} {
		if _, err := TokenCycles(bad); err == nil {
			t.Errorf("Expected an error for token %q", bad)
		}
	}
}

func TestOverrideCycles(t *testing.T) {
	mask := BaseMask{"Y151", "I8N2", "I8N2", "Y151"}
	if actual := mask.OverrideCycles(); actual != "Y151;I8N2;I8N2;Y151" {
		t.Errorf("Wrong override cycles: %s", actual)
	}
}
