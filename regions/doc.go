// Package regions stores the restriction fragments of a genome and maps
// alignment positions to the fragment enclosing them.
//
// Regions are added once, in bulk, and receive a sequential index (ix) in
// insertion order. All regions of a chromosome must form one contiguous run,
// so that a chromosome is fully described by the ix range [first, last] and by
// the sorted list of fragment end coordinates. Position lookups binary-search
// that list:
//
//	chr1:    |--- ix0 ---|--- ix1 ---|--- ix2 ---|
//	         1        1000 1001   2000 2001   2500
//
// Position 1000 belongs to ix0, position 1001 (the digestion boundary) to ix1.
package regions
