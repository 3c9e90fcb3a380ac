// Package sweep resolves the number of points in an instrument trace and
// generates the evenly spaced abscissa that goes with it.
//
// Instruments differ in what they can tell us about a trace. Some report the
// point count on request, some have a count fixed by their hardware, and some
// offer nothing, in which case the count is the length of a measured trace. A
// Capability names which of these applies and a Resolver picks the cheapest
// strategy for it.
package sweep
