package pairs

import (
	"math"
	"sort"

	"github.com/grailbio/base/log"
	"gonum.org/v1/gonum/stat/distuv"
)

// LigationBiases holds the ratios of inward- and outward-facing pairs to
// same-strand pairs, binned by the gap between their fragments. Bins are
// ordered by increasing gap size.
type LigationBiases struct {
	// Distances is the mean gap size of each bin.
	Distances []int64
	// InwardRatios and OutwardRatios are #inward/#same-strand and
	// #outward/#same-strand per bin.
	InwardRatios  []float64
	OutwardRatios []float64
	// BinSizes is the number of pairs per bin.
	BinSizes []int64
}

type ligationType uint8

const (
	ligationSame ligationType = iota
	ligationInward
	ligationOutward
)

type gapPoint struct {
	gap int64
	typ ligationType
}

// LigationStructureBiases computes the ligation structure biases of the
// visible intra-chromosomal pairs with a positive gap size. A bin is closed
// once it holds more than sampling same-strand pairs; a trailing partial bin
// is dropped. If sampling <= 0, max(100, 0.25% of the rows) is used. With
// skipSelfLigations, pairs within one fragment are ignored.
func (s *Store) LigationStructureBiases(sampling int, skipSelfLigations bool) (LigationBiases, error) {
	if err := s.checkRegions(); err != nil {
		return LigationBiases{}, err
	}
	var points []gapPoint
	var same, inward, outward, selfLig, interChrom int64
	c := s.Pairs(nil, true)
	for c.Next() {
		p := c.Pair()
		if p.IsSameFragment() {
			selfLig++
			if skipSelfLigations {
				continue
			}
		}
		gap, ok := p.GapSize()
		if !ok {
			interChrom++
			continue
		}
		if gap <= 0 {
			continue
		}
		pt := gapPoint{gap: gap}
		switch {
		case p.IsOutward():
			pt.typ = ligationOutward
			outward++
		case p.IsInward():
			pt.typ = ligationInward
			inward++
		default:
			same++
		}
		points = append(points, pt)
	}
	if err := c.Err(); err != nil {
		return LigationBiases{}, err
	}
	log.Printf("pairs: ligation structure: %d pairs, %d inter-chromosomal, %d same fragment, %d same strand, %d inward, %d outward",
		s.Len(), interChrom, selfLig, same, inward, outward)

	sort.Slice(points, func(i, j int) bool {
		if points[i].gap != points[j].gap {
			return points[i].gap < points[j].gap
		}
		return points[i].typ < points[j].typ
	})
	if sampling <= 0 {
		sampling = int(float64(s.Len()) * 0.0025)
		if sampling < 100 {
			sampling = 100
		}
	}
	log.Debug.Printf("pairs: averaging %d same-strand pairs per ligation bias bin", sampling)

	var b LigationBiases
	var counter, sameCounter, inwards, outwards, mids int64
	for _, pt := range points {
		mids += pt.gap
		switch pt.typ {
		case ligationSame:
			sameCounter++
		case ligationInward:
			inwards++
		default:
			outwards++
		}
		counter++
		if sameCounter > int64(sampling) {
			b.Distances = append(b.Distances, mids/counter)
			b.InwardRatios = append(b.InwardRatios, float64(inwards)/float64(sameCounter))
			b.OutwardRatios = append(b.OutwardRatios, float64(outwards)/float64(sameCounter))
			b.BinSizes = append(b.BinSizes, counter)
			counter, sameCounter, inwards, outwards, mids = 0, 0, 0, 0, 0
		}
	}
	return b, nil
}

// AutoDistanceLevel is the significance level of AutoDistance.
const AutoDistanceLevel = 0.05

// AutoDistance returns the distance of the first bin whose ratio is not
// significantly different from 0.5, using a two-sided two-proportion z-test
// at AutoDistanceLevel. Ratios are clipped to [0, 1]. It returns false if
// no bin qualifies.
func AutoDistance(distances []int64, ratios []float64, binSizes []int64) (int64, bool) {
	const expected = 0.5
	zCrit := distuv.UnitNormal.Quantile(1 - AutoDistanceLevel/2)
	if len(distances) != len(ratios) || len(ratios) != len(binSizes) {
		panic("pairs: AutoDistance arguments differ in length")
	}
	for i, r := range ratios {
		r = math.Max(0, math.Min(1, r))
		n := float64(binSizes[i])
		if n <= 0 {
			continue
		}
		p := (r*n + expected*n) / (2 * n)
		z := math.Abs((expected - r) / math.Sqrt(p*(1-p)*(2/n)))
		if z < zCrit {
			return distances[i], true
		}
	}
	return 0, false
}
