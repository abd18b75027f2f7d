// Package heatmap holds the pure scoring pipeline behind the condition
// heatmap: zoom-dependent grid snapping, recency decay, cell aggregation and
// activity re-weighting. Nothing here performs I/O or keeps state; every
// table is immutable and safe for concurrent use.
package heatmap
