package illumina

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/pharmbio/taca/utils"
)

// BaseMask holds one token per read of the run, e.g. Y151, I8N2, I8Y9N7
// or N10
type BaseMask []string

// String is the bcl2fastq form, Y151,I8N2,Y151
func (m BaseMask) String() string {
	return strings.Join(m, ",")
}

// OverrideCycles is the bcl-convert form, Y151;I8N2;Y151
func (m BaseMask) OverrideCycles() string {
	return strings.Join(m, ";")
}

var maskPartPat = regexp.MustCompile(`([YIN])([0-9]+)`)

// TokenCycles returns the number of cycles a mask token consumes
func TokenCycles(token string) (int, error) {
	parts := maskPartPat.FindAllStringSubmatch(token, -1)
	total, consumed := 0, 0
	for _, part := range parts {
		count, err := strconv.Atoi(part[2])
		if err != nil {
			return 0, errors.Wrapf(err, "bad mask token %q", token)
		}
		total += count
		consumed += len(part[0])
	}
	if consumed != len(token) || len(parts) == 0 {
		return 0, errors.Errorf("bad mask token %q", token)
	}
	return total, nil
}

// MaskRequest is what the mask of one sample depends on
type MaskRequest struct {
	SampleType SampleType
	Index1     int
	Index2     int
	Dual       bool
	UMI1       int
	UMI2       int
	Read1      int
	Read2      int
}

// RequestFor builds the mask request of a classified sample
func RequestFor(c SampleClassification) MaskRequest {
	return MaskRequest{
		SampleType: c.Type,
		Index1:     c.IndexLength[0],
		Index2:     c.IndexLength[1],
		Dual:       c.IsDual(),
		UMI1:       c.UMILength[0],
		UMI2:       c.UMILength[1],
		Read1:      c.ReadLength[0],
		Read2:      c.ReadLength[1],
	}
}

// ComputeBaseMask returns the mask for a sample, one token per read in run
// order. Claimed index lengths never get truncated: an index longer than
// its read fails with ErrIndexExceedsCycles.
func ComputeBaseMask(reads []ReadSpec, req MaskRequest) (BaseMask, error) {
	mask := make(BaseMask, 0, len(reads))
	seqRead, idxRead := 0, 0
	for _, r := range reads {
		phys := r.NumCycles
		if !r.IsIndexed {
			requested := phys
			switch seqRead {
			case 0:
				requested = req.Read1
			case 1:
				requested = req.Read2
			}
			seqRead++
			mask = append(mask, sequenceToken(phys, requested))
			continue
		}

		idxRead++
		var tok string
		var err error
		switch {
		case idxRead == 1:
			tok, err = indexToken(phys, req.Index1, req.UMI1, req.SampleType)
		case idxRead == 2 && req.SampleType == TenXSingle:
			tok = utils.Fs("Y%d", phys)
		case idxRead == 2 && !req.Dual:
			tok = utils.Fs("N%d", phys)
		case idxRead == 2:
			tok, err = indexToken(phys, req.Index2, req.UMI2, req.SampleType)
		default:
			tok = utils.Fs("N%d", phys)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "index read %d (read %d)", idxRead, r.Number)
		}
		mask = append(mask, tok)
	}
	if req.Index1 > 0 && idxRead < 1 {
		return nil, errors.Wrapf(ErrIndexExceedsCycles, "index 1 of length %d but the run has no index read", req.Index1)
	}
	if req.Dual && req.Index2 > 0 && idxRead < 2 {
		return nil, errors.Wrapf(ErrIndexExceedsCycles, "index 2 of length %d but the run has no second index read", req.Index2)
	}
	return mask, nil
}

func sequenceToken(phys, requested int) string {
	switch {
	case requested == 0:
		return utils.Fs("N%d", phys)
	case requested < phys:
		return utils.Fs("Y%dN%d", requested, phys-requested)
	default:
		return utils.Fs("Y%d", phys)
	}
}

func indexToken(phys, index, umi int, st SampleType) (string, error) {
	if index > phys {
		return "", errors.Wrapf(ErrIndexExceedsCycles, "index length %d, %d cycles", index, phys)
	}
	if index == 0 || st == NoIndex {
		return utils.Fs("N%d", phys), nil
	}
	remainder := phys - index
	if st == IDTUMI && umi > 0 {
		rest := remainder - umi
		if rest < 0 {
			return "", errors.Wrapf(ErrUMIExceedsCycles, "index %d plus UMI %d, %d cycles", index, umi, phys)
		}
		if rest == 0 {
			return utils.Fs("I%dY%d", index, umi), nil
		}
		return utils.Fs("I%dY%dN%d", index, umi, rest), nil
	}
	if remainder > 0 {
		return utils.Fs("I%dN%d", index, remainder), nil
	}
	return utils.Fs("I%d", phys), nil
}

// Validate checks that every token consumes exactly the cycles of its read
func (m BaseMask) Validate(reads []ReadSpec) error {
	if len(m) != len(reads) {
		return errors.Errorf("mask %s has %d tokens for %d reads", m, len(m), len(reads))
	}
	for i, tok := range m {
		n, err := TokenCycles(tok)
		if err != nil {
			return err
		}
		if n != reads[i].NumCycles {
			return errors.Errorf("token %s of mask %s covers %d cycles, read %d has %d", tok, m, n, reads[i].Number, reads[i].NumCycles)
		}
	}
	return nil
}
